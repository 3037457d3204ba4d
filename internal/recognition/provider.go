// Package recognition turns document bytes into located, confidence-scored
// text regions.
//
// Providers:
//   - google-vision: Google Cloud Vision document text detection (PDF and images)
//   - documentai: Google Document AI (tables, form fields, paragraphs)
//   - azure: Azure Computer Vision printed text OCR (images)
//   - tesseract: local Tesseract OCR, only with the "tesseract" build tag
//   - plaintext: UTF-8 text files passed through as fallback text
//
// Limits of the Google APIs for synchronous processing:
//   - Maximum file size: 20MB
//   - Maximum pages: 5
package recognition

import (
	"context"
	"os"
	"time"

	"google.golang.org/api/option"

	"finscribe/internal/config"
	"finscribe/pkg/models"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for synchronous processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the maximum number of pages for synchronous processing
	MaxPagesSync = 5
)

// Provider is a recognition capability.
type Provider interface {
	// Name is the registry name of the provider.
	Name() string

	// ModelVersion identifies the model behind the provider. It is recorded
	// in every result.
	ModelVersion() string

	// Parse recognizes a single document.
	Parse(ctx context.Context, document []byte) (*models.RecognitionResult, error)
}

// googleClientOptions builds client options from the Google section, falling
// back to the process environment the way the Google client libraries do.
func googleClientOptions(cfg config.GoogleSection) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Credentials)))
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	} else if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return opts
}

func finish(result *models.RecognitionResult, provider Provider, start time.Time) *models.RecognitionResult {
	result.Provider = provider.Name()
	result.ModelVersion = provider.ModelVersion()
	result.ProcessingTimeMS = time.Since(start).Milliseconds()
	return result
}

func checkSize(provider, op string, document []byte) error {
	if len(document) == 0 {
		return wrapError(provider, op, ErrEmptyDocument, "no bytes")
	}
	if len(document) > MaxDocumentSizeBytes {
		return wrapError(provider, op, ErrDocumentTooLarge, "")
	}
	return nil
}
