// Package pipeline runs documents through recognition, structuring,
// enrichment and validation, consulting the result cache before each
// external call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"finscribe/internal/cache"
	"finscribe/internal/enrichment"
	"finscribe/internal/errkind"
	"finscribe/internal/logger"
	"finscribe/internal/recognition"
	"finscribe/internal/structurer"
	"finscribe/internal/validator"
	"finscribe/pkg/models"
)

var (
	ErrNoRecognizer = errors.New("no recognition provider configured")
	ErrNoEnricher   = errors.New("no enrichment provider configured")
)

// Deps are the explicit dependencies of a Pipeline. Recognizer and Enricher
// may be nil for pipelines that only run the stages not needing them. Nil
// Cache, Structurer and Validator select a disabled cache and the defaults.
type Deps struct {
	Recognizer    recognition.Provider
	Enricher      enrichment.Provider
	Cache         *cache.Cache
	Structurer    *structurer.Structurer
	Validator     *validator.Validator
	SchemaVersion string
}

// Pipeline is safe for concurrent use. Identical concurrent recognition or
// enrichment requests share one provider call.
type Pipeline struct {
	recognizer    recognition.Provider
	enricher      enrichment.Provider
	cache         *cache.Cache
	structurer    *structurer.Structurer
	validator     *validator.Validator
	schemaVersion string

	group singleflight.Group
	log   zerolog.Logger
}

// New creates a pipeline from deps.
func New(deps Deps) *Pipeline {
	p := &Pipeline{
		recognizer:    deps.Recognizer,
		enricher:      deps.Enricher,
		cache:         deps.Cache,
		structurer:    deps.Structurer,
		validator:     deps.Validator,
		schemaVersion: deps.SchemaVersion,
		log:           logger.WithComponent("pipeline"),
	}
	if p.cache == nil {
		p.cache = cache.Disabled()
	}
	if p.structurer == nil {
		p.structurer = structurer.New(structurer.DefaultOptions())
	}
	if p.validator == nil {
		p.validator = validator.New(validator.DefaultOptions())
	}
	if p.schemaVersion == "" {
		p.schemaVersion = enrichment.SchemaV1
	}
	return p
}

// Cache returns the pipeline's cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Outcome is everything one pipeline run produced. Stages that did not run
// leave their fields zero.
type Outcome struct {
	Recognition         *models.RecognitionResult `json:"recognition,omitempty"`
	StructuredText      string                    `json:"structured_text,omitempty"`
	Enrichment          *models.EnrichmentResult  `json:"enrichment,omitempty"`
	Invoice             *models.Invoice           `json:"invoice,omitempty"`
	Report              *models.ValidationReport  `json:"validation,omitempty"`
	RecognitionCacheHit bool                      `json:"recognition_cache_hit"`
	EnrichmentCacheHit  bool                      `json:"enrichment_cache_hit"`
	Status              string                    `json:"status"`
	Duration            time.Duration             `json:"duration_ns"`
}

// Recognize parses doc, returning a cached result when one exists. The
// returned result is shared with concurrent callers and must not be modified.
func (p *Pipeline) Recognize(ctx context.Context, doc []byte) (*models.RecognitionResult, bool, error) {
	if p.recognizer == nil {
		return nil, false, ErrNoRecognizer
	}

	key := cache.RecognitionKey(doc)
	var cached models.RecognitionResult
	if p.cache.GetJSON(ctx, key, &cached) {
		p.log.Debug().Str("key", key).Msg("Recognition cache hit")
		return &cached, true, nil
	}

	v, err, shared := p.group.Do(key, func() (any, error) {
		result, err := p.recognizer.Parse(ctx, doc)
		if err != nil {
			return nil, err
		}
		p.cache.SetJSON(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		p.log.Debug().Str("key", key).Msg("Recognition shared with a concurrent request")
	}
	return v.(*models.RecognitionResult), false, nil
}

// Structure distills a recognition result into labeled text.
func (p *Pipeline) Structure(result *models.RecognitionResult) (string, error) {
	return p.structurer.Structure(result)
}

// Enrich extracts an invoice from structured text, returning a cached result
// when one exists. Only successful results are cached.
func (p *Pipeline) Enrich(ctx context.Context, structuredText string, fileBytes []byte) (*models.EnrichmentResult, bool, error) {
	if p.enricher == nil {
		return nil, false, ErrNoEnricher
	}

	key := cache.EnrichmentKey(structuredText, p.enricher.ModelVersion(), p.schemaVersion)
	var cached models.EnrichmentResult
	if p.cache.GetJSON(ctx, key, &cached) {
		p.log.Debug().Str("key", key).Msg("Enrichment cache hit")
		return &cached, true, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		result, err := p.enricher.Enrich(ctx, structuredText, fileBytes)
		if err != nil {
			return nil, err
		}
		if result.Status == enrichment.StatusSuccess {
			p.cache.SetJSON(ctx, key, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.EnrichmentResult), false, nil
}

// Validate checks and corrects the arithmetic of inv.
func (p *Pipeline) Validate(inv models.Invoice) (models.Invoice, models.ValidationReport) {
	return p.validator.Validate(inv)
}

// ValidateJSON decodes and validates a raw invoice. Input that does not decode
// yields an invalid report with a single malformed_invoice note.
func (p *Pipeline) ValidateJSON(data []byte) (models.Invoice, models.ValidationReport) {
	return p.validator.ValidateJSON(data)
}

// Process runs a document through every stage.
func (p *Pipeline) Process(ctx context.Context, doc []byte) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{}

	result, hit, err := p.Recognize(ctx, doc)
	if err != nil {
		out.Status = models.StatusFailed
		out.Duration = time.Since(start)
		return out, fmt.Errorf("recognize: %w", err)
	}
	out.RecognitionCacheHit = hit

	err = p.process(ctx, result, doc, out)
	out.Duration = time.Since(start)
	return out, err
}

// ProcessRecognition runs an existing recognition result through
// structuring, enrichment and validation.
func (p *Pipeline) ProcessRecognition(ctx context.Context, result *models.RecognitionResult) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{}
	err := p.process(ctx, result, nil, out)
	out.Duration = time.Since(start)
	return out, err
}

func (p *Pipeline) process(ctx context.Context, result *models.RecognitionResult, doc []byte, out *Outcome) error {
	out.Recognition = result

	text, err := p.Structure(result)
	out.StructuredText = text
	if err != nil {
		switch errkind.KindOf(err) {
		case errkind.UnrepresentableInput:
			out.Status = models.StatusUnrepresentable
			return err
		default:
			p.log.Warn().Err(err).Msg("Structuring degraded, continuing with its output")
		}
	}
	if text == "" {
		out.Status = models.StatusUnrepresentable
		return errkind.New(errkind.UnrepresentableInput, "pipeline.Process", nil, "empty structured text")
	}

	enriched, hit, err := p.Enrich(ctx, text, doc)
	if err != nil {
		if errkind.KindOf(err) == errkind.UnrepresentableInput {
			out.Status = models.StatusUnrepresentable
		} else {
			out.Status = models.StatusFailed
		}
		return fmt.Errorf("enrich: %w", err)
	}
	out.Enrichment = enriched
	out.EnrichmentCacheHit = hit

	inv, report := p.Validate(enriched.StructuredData)
	out.Invoice = &inv
	out.Report = &report
	out.Status = models.StatusFor(report)

	p.log.Info().
		Str("status", out.Status).
		Bool("recognition_cache_hit", out.RecognitionCacheHit).
		Bool("enrichment_cache_hit", out.EnrichmentCacheHit).
		Int("notes", len(report.Notes)).
		Msg("Document processed")

	return nil
}
