package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"finscribe/internal/connectors"
	"finscribe/internal/logger"
	"finscribe/internal/pipeline"
	"finscribe/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Process all documents in a folder and push the results",
	Long: `Process every supported document in a folder (PDF, PNG, JPEG, TIFF, GIF and
plain text), recurse into subfolders, and push the validated invoices to a
connector.

Documents are processed in parallel. Identical documents are recognized and
enriched only once thanks to the content hash cache.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)`,
	Example: `  # Process a folder and append the invoices to Google Sheets
  finscribe batch ./invoices --push sheets

  # Export to a JSON lines file with 8 workers
  JSONL_PATH=invoices.jsonl finscribe batch ./invoices --push jsonl --workers 8

  # Dry run to test processing without pushing
  finscribe batch ./invoices --push sheets --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// supportedExtensions lists the document types batch picks up.
var supportedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".gif", ".txt"}

// BatchResult is the result of processing a single document.
type BatchResult struct {
	Filename string
	Record   connectors.Record
	Outcome  *pipeline.Outcome
	Err      error
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: batch.workers)")
	batchCmd.Flags().String("push", "", "Connector to push the results to (default: providers.push)")
	batchCmd.Flags().String("recognizer", "", "Recognition provider (default: providers.recognition)")
	batchCmd.Flags().String("enricher", "", "Enrichment provider (default: providers.enrichment)")
	batchCmd.Flags().Bool("dry-run", false, "Process files but don't push the results")
	batchCmd.Flags().Int("timeout", 1800, "Timeout for the whole batch in seconds")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")
	cfg := currentConfig()
	out := cmd.OutOrStdout()

	folderPath := args[0]
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}
	pushName, _ := cmd.Flags().GetString("push")
	if pushName == "" {
		pushName = cfg.Providers.Push
	}
	st := stages{recognizer: cfg.Providers.Recognition, enricher: cfg.Providers.Enrichment}
	if v, _ := cmd.Flags().GetString("recognizer"); v != "" {
		st.recognizer = v
	}
	if v, _ := cmd.Flags().GetString("enricher"); v != "" {
		st.enricher = v
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	log.Info().
		Str("folder", folderPath).
		Int("workers", workers).
		Str("push", pushName).
		Bool("dry_run", dryRun).
		Msg("Starting batch processing")

	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintln(out, "                         BATCH PROCESSING")
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "Folder: %s\n", folderPath)
	if pushName != "" {
		fmt.Fprintf(out, "Connector: %s\n", pushName)
	}
	if dryRun {
		fmt.Fprintln(out, "Mode: dry run (results are not pushed)")
	}
	fmt.Fprintln(out)

	files, err := findDocuments(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find documents: %w", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No supported documents found in folder.")
		return nil
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	p, err := buildPipeline(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer p.Cache().Close()

	var pusher connectors.Pusher
	if pushName != "" && !dryRun {
		if pusher, err = providers.Pusher(ctx, pushName, cfg); err != nil {
			return explainProviderError(err, log)
		}
	}

	fmt.Fprintf(out, "Processing %d documents with %d parallel workers...\n\n", len(files), workers)
	start := time.Now()
	results, err := processDocuments(ctx, p, files, workers, out, log)
	if err != nil {
		return explainProviderError(err, log)
	}
	fmt.Fprintln(out)

	counts := map[string]int{}
	records := make([]connectors.Record, len(results))
	for i, r := range results {
		counts[r.Record.Status]++
		records[i] = r.Record
	}

	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out, "                 SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	for _, status := range []string{models.StatusValid, models.StatusCorrected, models.StatusUnrepresentable, models.StatusFailed} {
		if n := counts[status]; n > 0 || status == models.StatusValid {
			fmt.Fprintf(out, "%-16s %d\n", status+":", n)
		}
	}
	fmt.Fprintf(out, "%-16s %s\n", "duration:", time.Since(start).Round(time.Millisecond))
	fmt.Fprintln(out)

	if pusher != nil {
		fmt.Fprintf(out, "Pushing results to %s...\n", pusher.Name())
		if err := pushRecords(ctx, pusher, records, log); err != nil {
			return err
		}
		fmt.Fprintf(out, "Records pushed: %d\n", counts[models.StatusValid]+counts[models.StatusCorrected])
	}

	fmt.Fprintln(out, strings.Repeat("=", 80))

	log.Info().
		Int("total", len(files)).
		Int("valid", counts[models.StatusValid]).
		Int("corrected", counts[models.StatusCorrected]).
		Int("unrepresentable", counts[models.StatusUnrepresentable]).
		Int("failed", counts[models.StatusFailed]).
		Msg("Batch processing completed")

	return nil
}

// findDocuments returns every supported document below folderPath, sorted.
func findDocuments(folderPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != folderPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(supportedExtensions, strings.ToLower(filepath.Ext(d.Name()))) {
			files = append(files, path)
		}
		return nil
	})

	slices.Sort(files)
	return files, err
}

// processDocuments runs files through the pipeline with a bounded number of
// workers. Results keep the order of files. Per-document failures are part of
// the results; only cancellation aborts the batch.
func processDocuments(ctx context.Context, p *pipeline.Pipeline, files []string, workers int, out io.Writer, log zerolog.Logger) ([]BatchResult, error) {
	results := make([]BatchResult, len(files))

	var (
		mu        sync.Mutex
		processed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			log.Debug().
				Str("file", path).
				Int("index", i+1).
				Msg("Processing document")

			result := processSingleDocument(gctx, p, path)
			results[i] = result

			mu.Lock()
			processed++
			fmt.Fprintf(out, "[%d/%d] %s - %s", processed, len(files), result.Filename, result.Record.Status)
			switch {
			case result.Err != nil:
				fmt.Fprintf(out, " (%s)", result.Err.Error())
			case result.Record.Invoice != nil:
				sum := result.Record.Invoice.FinancialSummary
				fmt.Fprintf(out, " (%.2f %s)", sum.GrandTotal.Float(), sum.Currency)
			}
			fmt.Fprintln(out)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// processSingleDocument processes one file and never fails the batch.
func processSingleDocument(ctx context.Context, p *pipeline.Pipeline, path string) BatchResult {
	result := BatchResult{Filename: filepath.Base(path)}
	docID := uuid.NewString()
	log := logger.WithDocument("batch", docID)

	doc, err := readDocument(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable document")
		result.Err = err
		result.Record = outcomeRecord(docID, result.Filename, nil, err)
		return result
	}

	outcome, err := p.Process(ctx, doc)
	result.Outcome = outcome
	if err != nil && outcome.Status != models.StatusUnrepresentable {
		result.Err = err
	}
	result.Record = outcomeRecord(docID, result.Filename, outcome, result.Err)

	log.Debug().
		Str("file", path).
		Str("status", result.Record.Status).
		Bool("recognition_cache_hit", outcome.RecognitionCacheHit).
		Bool("enrichment_cache_hit", outcome.EnrichmentCacheHit).
		Dur("duration", outcome.Duration).
		Msg("Document processed")
	return result
}
