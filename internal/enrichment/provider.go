// Package enrichment turns structured document text into a typed invoice
// record using a language model.
//
// Supported providers:
//   - openai: OpenAI chat completions (or any compatible endpoint) in JSON mode
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"finscribe/pkg/models"
)

// Result statuses.
const (
	// StatusSuccess means the model output satisfied the schema.
	StatusSuccess = "success"

	// StatusPartial means no attempt satisfied the schema and the last
	// decodable output was used instead. Partial results are not cached.
	StatusPartial = "partial"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrNoChoices          = errors.New("no response choices")
	ErrSchemaMismatch     = errors.New("output does not match schema")
)

// Provider is the enrich capability.
type Provider interface {
	// Name identifies the provider in the registry.
	Name() string

	// ModelVersion is part of the enrichment cache key.
	ModelVersion() string

	// Enrich extracts an invoice from structured text. fileBytes is the
	// original document and may be nil.
	Enrich(ctx context.Context, structuredText string, fileBytes []byte) (*models.EnrichmentResult, error)
}

// EnrichmentError wraps provider failures with the provider name.
type EnrichmentError struct {
	Provider string
	Op       string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment[%s]: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}
