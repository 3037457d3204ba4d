package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/internal/structurer"
	"finscribe/pkg/models"
)

var structureCmd = &cobra.Command{
	Use:   "structure [recognition.json|-]",
	Short: "Distill a recognition result into labeled text blocks",
	Long: `Convert a recognition result (as written by 'recognize --json') into the
compact labeled text that is sent to the enrichment provider.

Tables come first, followed by key-value pairs, lists, financially relevant
headers and footers, and confident text. Legal and marketing boilerplate is
dropped. When nothing survives, the raw text is used as a fallback.

Reads from stdin when no file or "-" is given.`,
	Example: `  finscribe recognize invoice.pdf --json | finscribe structure
  finscribe structure invoice.recognition.json --min-confidence 0.7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStructure,
}

func init() {
	rootCmd.AddCommand(structureCmd)

	structureCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	structureCmd.Flags().Float64("min-confidence", 0, "Override structurer.min_confidence")
}

func runStructure(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("structure")
	cfg := currentConfig()

	outputPath, _ := cmd.Flags().GetString("output")
	minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")

	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	var result models.RecognitionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("input is not a recognition result: %w", err)
	}

	opts := structurerOptions(cfg)
	if minConfidence > 0 {
		opts.MinConfidence = minConfidence
	}

	text, err := structurer.New(opts).Structure(&result)
	if err != nil {
		if errkind.KindOf(err) == errkind.UnrepresentableInput {
			log.Warn().Err(err).Msg("Nothing extractable")
			return fmt.Errorf("nothing extractable from the recognition result")
		}
		log.Warn().Err(err).Msg("Structuring degraded")
	}

	return writeOutput(cmd, []byte(text), outputPath, log)
}
