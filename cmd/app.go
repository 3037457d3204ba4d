package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"finscribe/internal/cache"
	"finscribe/internal/config"
	"finscribe/internal/enrichment"
	"finscribe/internal/pipeline"
	"finscribe/internal/recognition"
	"finscribe/internal/registry"
	"finscribe/internal/structurer"
	"finscribe/internal/validator"
)

// providers is the registry every command builds its providers from.
var providers = registry.Defaults()

// currentConfig returns the configuration loaded by the root command, or the
// defaults when a command runs without it (tests).
func currentConfig() *config.Config {
	if appConfig == nil {
		return config.Default()
	}
	return appConfig
}

func structurerOptions(cfg *config.Config) structurer.Options {
	s := cfg.Structurer
	return structurer.Options{
		MinConfidence:         s.MinConfidence,
		TextConfidence:        s.TextConfidence,
		BoilerplateMinLength:  s.BoilerplateMinLength,
		MaxSentenceLength:     s.MaxSentenceLength,
		FallbackMaxLines:      s.FallbackMaxLines,
		FallbackMinLineLength: s.FallbackMinLineLength,
	}
}

func validatorOptions(cfg *config.Config) validator.Options {
	return validator.Options{
		Tolerance: cfg.Validator.Tolerance,
		Precision: cfg.Validator.Precision,
	}
}

// stages selects which providers a pipeline needs.
type stages struct {
	recognizer string
	enricher   string
}

// buildPipeline wires the configured providers and cache into a pipeline.
// Empty stage names leave the provider out.
func buildPipeline(ctx context.Context, cfg *config.Config, st stages, log zerolog.Logger) (*pipeline.Pipeline, error) {
	deps := pipeline.Deps{
		Structurer:    structurer.New(structurerOptions(cfg)),
		Validator:     validator.New(validatorOptions(cfg)),
		SchemaVersion: cfg.Cache.SchemaVersion,
	}

	if st.recognizer != "" {
		p, err := providers.Parser(ctx, st.recognizer, cfg)
		if err != nil {
			return nil, explainProviderError(err, log)
		}
		deps.Recognizer = p
		log.Debug().Str("recognizer", p.Name()).Str("model_version", p.ModelVersion()).Msg("Recognition provider ready")
	}
	if st.enricher != "" {
		e, err := providers.Enricher(ctx, st.enricher, cfg)
		if err != nil {
			return nil, explainProviderError(err, log)
		}
		deps.Enricher = e
		log.Debug().Str("enricher", e.Name()).Str("model_version", e.ModelVersion()).Msg("Enrichment provider ready")
	}

	deps.Cache = cache.Open(ctx, cfg.Cache)
	return pipeline.New(deps), nil
}

// createContextWithTimeout creates a context with timeout and signal handling.
// A non-positive timeout only cancels on signals.
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeoutSecs > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// readInput reads a file, or stdin when path is "-" or empty.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	return readDocument(path)
}

// readDocument checks that path is a readable, non-empty regular file within
// the synchronous size limit and returns its content.
func readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > recognition.MaxDocumentSizeBytes {
		return nil, fmt.Errorf("file too large (%d bytes). Maximum size is %d bytes (20MB)",
			info.Size(), recognition.MaxDocumentSizeBytes)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to outputPath, or to the command's stdout.
func writeOutput(cmd *cobra.Command, data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return nil
}

// explainProviderError provides user-friendly messages for provider failures.
func explainProviderError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Provider failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("processing was canceled")
	case errors.Is(err, registry.ErrUnknownProvider):
		return fmt.Errorf("%w (run 'finscribe providers' to list them)", err)
	case errors.Is(err, recognition.ErrNotBuilt):
		return fmt.Errorf("tesseract support is not compiled in. Rebuild with: go build -tags tesseract")
	case errors.Is(err, recognition.ErrMissingCredentials),
		errors.Is(err, enrichment.ErrMissingCredentials):
		return fmt.Errorf("credentials not configured. Please set one of:\n\n"+
			"  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS for Google providers\n"+
			"  AZURE_VISION_KEY for azure\n"+
			"  OPENAI_API_KEY for openai\n\n"+
			"Original error: %w", err)
	case errors.Is(err, recognition.ErrInvalidConfiguration):
		return fmt.Errorf("provider configuration incomplete: %w", err)
	case errors.Is(err, recognition.ErrDocumentTooLarge):
		return fmt.Errorf("document is too large (maximum 20MB). Try compressing or splitting the file")
	case errors.Is(err, recognition.ErrTooManyPages):
		return fmt.Errorf("document has too many pages (maximum %d pages). Try splitting into smaller files", recognition.MaxPagesSync)
	case errors.Is(err, recognition.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported document format for this provider: %w", err)
	case errors.Is(err, recognition.ErrEmptyDocument):
		return fmt.Errorf("no readable text found in the document")
	case errors.Is(err, recognition.ErrQuotaExceeded),
		strings.Contains(errStr, "QUOTA_EXCEEDED"),
		strings.Contains(errStr, "quota"):
		return fmt.Errorf("provider quota exceeded. Check your project quotas: %w", err)
	case strings.Contains(errStr, "Unauthenticated"),
		strings.Contains(errStr, "invalid_grant"),
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("authentication failed, please check your credentials: %w", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure the service account has access to the API: %w", err)
	case enrichment.IsRetryable(err):
		return fmt.Errorf("the enrichment service is temporarily unavailable, try again later: %w", err)
	default:
		return err
	}
}
