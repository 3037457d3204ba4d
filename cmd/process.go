package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"finscribe/internal/connectors"
	"finscribe/internal/logger"
	"finscribe/internal/pipeline"
	"finscribe/pkg/models"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Run a document through recognition, enrichment and validation",
	Long: `Process a single document end to end:

  1. recognize: extract located text regions (cached by document hash)
  2. structure: distill the regions into labeled text blocks
  3. enrich:    let the language model return a typed invoice (cached by text hash)
  4. validate:  check and repair the invoice's arithmetic

Prints a summary of the invoice, or with --json the corrected invoice and its
validation report. With --push the result is also sent to a connector.

Required environment variables depend on the providers, see 'finscribe providers'.`,
	Example: `  # Process an invoice with the default providers
  finscribe process invoice.pdf

  # Save the corrected invoice as JSON
  finscribe process invoice.pdf --json -o invoice.json

  # Process with Azure and append the result to Google Sheets
  finscribe process invoice.jpg --recognizer azure --push sheets`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("recognizer", "", "Recognition provider (default: providers.recognition)")
	processCmd.Flags().String("enricher", "", "Enrichment provider (default: providers.enrichment)")
	processCmd.Flags().String("push", "", "Connector to push the result to (default: providers.push)")
	processCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	processCmd.Flags().Bool("json", false, "Output the corrected invoice as JSON")
	processCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runProcess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("process")
	cfg := currentConfig()

	st := stages{recognizer: cfg.Providers.Recognition, enricher: cfg.Providers.Enrichment}
	if v, _ := cmd.Flags().GetString("recognizer"); v != "" {
		st.recognizer = v
	}
	if v, _ := cmd.Flags().GetString("enricher"); v != "" {
		st.enricher = v
	}
	pushName, _ := cmd.Flags().GetString("push")
	if pushName == "" {
		pushName = cfg.Providers.Push
	}
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	path := args[0]

	log.Info().
		Str("file", path).
		Str("recognizer", st.recognizer).
		Str("enricher", st.enricher).
		Str("push", pushName).
		Int("timeout", timeoutSecs).
		Msg("Starting document processing")

	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer p.Cache().Close()

	var pusher connectors.Pusher
	if pushName != "" {
		if pusher, err = providers.Pusher(ctx, pushName, cfg); err != nil {
			return explainProviderError(err, log)
		}
	}

	outcome, err := p.Process(ctx, doc)
	if err != nil && outcome.Status != models.StatusUnrepresentable {
		return explainProviderError(err, log)
	}

	rec := outcomeRecord(uuid.NewString(), filepath.Base(path), outcome, err)
	if pusher != nil {
		if err := pushRecords(ctx, pusher, []connectors.Record{rec}, log); err != nil {
			return err
		}
	}

	if outcome.Status == models.StatusUnrepresentable {
		log.Warn().Err(err).Msg("Document has no extractable invoice content")
		return writeOutput(cmd, []byte(fmt.Sprintf("Status: %s\n", outcome.Status)), outputPath, log)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(models.CorrectedInvoice{Invoice: *outcome.Invoice, Validation: *outcome.Report}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		return writeOutput(cmd, data, outputPath, log)
	}
	return writeOutput(cmd, []byte(formatOutcome(outcome)), outputPath, log)
}

// outcomeRecord converts a pipeline outcome into a connector record.
func outcomeRecord(docID, source string, outcome *pipeline.Outcome, err error) connectors.Record {
	rec := connectors.Record{
		DocID:  docID,
		Source: source,
		Status: models.StatusFailed,
	}
	if outcome != nil {
		rec.Invoice = outcome.Invoice
		rec.Report = outcome.Report
		if outcome.Status != "" {
			rec.Status = outcome.Status
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// pushRecords sends records to a connector, skipping failed documents.
func pushRecords(ctx context.Context, pusher connectors.Pusher, records []connectors.Record, log zerolog.Logger) error {
	pushable := make([]connectors.Record, 0, len(records))
	for _, rec := range records {
		if rec.Invoice != nil {
			pushable = append(pushable, rec)
		}
	}
	if len(pushable) == 0 {
		log.Info().Str("connector", pusher.Name()).Msg("Nothing to push")
		return nil
	}

	if err := pusher.Push(ctx, pushable); err != nil {
		return fmt.Errorf("failed to push to %s: %w", pusher.Name(), err)
	}
	log.Info().
		Str("connector", pusher.Name()).
		Int("records", len(pushable)).
		Msg("Records pushed")
	return nil
}

// formatOutcome renders a human readable invoice summary.
func formatOutcome(outcome *pipeline.Outcome) string {
	inv := outcome.Invoice
	var b strings.Builder

	fmt.Fprintf(&b, "Status:         %s\n", outcome.Status)
	if inv.InvoiceNumber != "" {
		fmt.Fprintf(&b, "Invoice number: %s\n", inv.InvoiceNumber)
	}
	if inv.InvoiceDate != "" {
		fmt.Fprintf(&b, "Invoice date:   %s\n", inv.InvoiceDate)
	}
	if name := inv.Vendor.Name; name != "" {
		fmt.Fprintf(&b, "Vendor:         %s\n", name)
	}
	if name := inv.Client.Name; name != "" {
		fmt.Fprintf(&b, "Client:         %s\n", name)
	}

	if len(inv.LineItems) > 0 {
		b.WriteString("\nLine items:\n")
		for i, item := range inv.LineItems {
			fmt.Fprintf(&b, "  %d. %s  %g x %.2f = %.2f\n", i+1,
				item.Description, item.Quantity.Float(), item.UnitPrice.Float(), item.LineTotal.Float())
		}
	}

	fs := inv.FinancialSummary
	currency := fs.Currency
	b.WriteString("\n")
	fmt.Fprintf(&b, "Subtotal:       %.2f %s\n", fs.Subtotal.Float(), currency)
	fmt.Fprintf(&b, "Tax:            %.2f %s\n", fs.TaxAmount.Float(), currency)
	if fs.DiscountAmount != 0 {
		fmt.Fprintf(&b, "Discount:       %.2f %s\n", fs.DiscountAmount.Float(), currency)
	}
	fmt.Fprintf(&b, "Grand total:    %.2f %s\n", fs.GrandTotal.Float(), currency)

	if len(outcome.Report.Notes) > 0 {
		b.WriteString("\nCorrections:\n")
		for _, note := range outcome.Report.Notes {
			fmt.Fprintf(&b, "  - %s\n", note)
		}
	}
	return b.String()
}
