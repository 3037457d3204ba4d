package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"finscribe/internal/logger"
	"finscribe/pkg/models"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize [file]",
	Short: "Extract located text regions from a document",
	Long: `Run a document through a recognition provider and print the recognized text,
or with --json the full recognition result (regions, tables, confidence scores).

The result is cached by a hash of the document bytes, so recognizing the same
file again does not call the provider.

Providers: google-vision (default), documentai, azure, tesseract, plaintext.`,
	Example: `  # Print the raw text of a scanned invoice
  finscribe recognize invoice.pdf

  # Save the full recognition result for the structure command
  finscribe recognize invoice.pdf --json -o invoice.recognition.json

  # Use Document AI for table extraction
  finscribe recognize invoice.pdf --provider documentai --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("provider", "", "Recognition provider (default: providers.recognition)")
	recognizeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	recognizeCmd.Flags().Bool("json", false, "Output the full recognition result as JSON")
	recognizeCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("recognize")
	cfg := currentConfig()

	provider, _ := cmd.Flags().GetString("provider")
	if provider == "" {
		provider = cfg.Providers.Recognition
	}
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	path := args[0]

	log.Info().
		Str("file", path).
		Str("provider", provider).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Msg("Starting recognition")

	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, stages{recognizer: provider}, log)
	if err != nil {
		return err
	}
	defer p.Cache().Close()

	result, hit, err := p.Recognize(ctx, doc)
	if err != nil {
		return explainProviderError(err, log)
	}

	log.Info().
		Str("file", filepath.Base(path)).
		Int("regions", len(result.Regions)).
		Int("tables", len(result.Tables)).
		Int("page_count", result.PageCount).
		Bool("cache_hit", hit).
		Int64("processing_ms", result.ProcessingTimeMS).
		Msg("Recognition completed")

	return writeOutput(cmd, formatRecognition(result, jsonOutput), outputPath, log)
}

func formatRecognition(result *models.RecognitionResult, jsonOutput bool) []byte {
	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
		}
		return data
	}
	if strings.TrimSpace(result.Text) != "" {
		return []byte(result.Text)
	}
	texts := make([]string, 0, len(result.Regions))
	for _, r := range result.Regions {
		texts = append(texts, r.Text)
	}
	return []byte(strings.Join(texts, "\n"))
}
