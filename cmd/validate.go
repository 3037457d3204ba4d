package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"finscribe/internal/logger"
	"finscribe/internal/validator"
	"finscribe/pkg/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate [invoice.json|-]",
	Short: "Check and repair the arithmetic of an invoice",
	Long: `Validate an invoice's arithmetic: line totals against the subtotal, and
subtotal plus tax minus discount against the grand total. Mismatches beyond the
tolerance (validator.tolerance, default 0.01) are corrected and reported.

Prints the corrected invoice with its validation report as JSON. Reads from
stdin when no file or "-" is given.`,
	Example: `  finscribe validate invoice.json
  cat invoice.json | finscribe validate --strict`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	validateCmd.Flags().Bool("strict", false, "Exit with an error when the invoice needed corrections")
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("validate")
	cfg := currentConfig()

	outputPath, _ := cmd.Flags().GetString("output")
	strict, _ := cmd.Flags().GetBool("strict")

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	inv, report := validator.New(validatorOptions(cfg)).ValidateJSON(data)

	out, err := json.MarshalIndent(models.CorrectedInvoice{Invoice: inv, Validation: report}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	if err := writeOutput(cmd, out, outputPath, log); err != nil {
		return err
	}

	if strict && !report.ArithmeticValid {
		return fmt.Errorf("invoice arithmetic invalid: %s", strings.Join(report.Notes, "; "))
	}
	return nil
}
