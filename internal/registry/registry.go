// Package registry maps provider names to constructors for each pipeline
// capability: parse (recognition), enrich and push.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"finscribe/internal/config"
	"finscribe/internal/connectors"
	"finscribe/internal/enrichment"
	"finscribe/internal/recognition"
)

// Capability names a provider role.
type Capability string

const (
	Parse  Capability = "parse"
	Enrich Capability = "enrich"
	Push   Capability = "push"
)

var ErrUnknownProvider = errors.New("unknown provider")

type (
	ParserBuilder   func(ctx context.Context, cfg *config.Config) (recognition.Provider, error)
	EnricherBuilder func(ctx context.Context, cfg *config.Config) (enrichment.Provider, error)
	PusherBuilder   func(ctx context.Context, cfg *config.Config) (connectors.Pusher, error)
)

// Registry holds builders keyed by provider name. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	parsers   map[string]ParserBuilder
	enrichers map[string]EnricherBuilder
	pushers   map[string]PusherBuilder
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		parsers:   make(map[string]ParserBuilder),
		enrichers: make(map[string]EnricherBuilder),
		pushers:   make(map[string]PusherBuilder),
	}
}

// RegisterParser adds or replaces a recognition provider builder.
func (r *Registry) RegisterParser(name string, b ParserBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[name] = b
}

// RegisterEnricher adds or replaces an enrichment provider builder.
func (r *Registry) RegisterEnricher(name string, b EnricherBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers[name] = b
}

// RegisterPusher adds or replaces a connector builder.
func (r *Registry) RegisterPusher(name string, b PusherBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushers[name] = b
}

// Parser builds the named recognition provider.
func (r *Registry) Parser(ctx context.Context, name string, cfg *config.Config) (recognition.Provider, error) {
	r.mu.RLock()
	b, ok := r.parsers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(Parse, name)
	}
	return b(ctx, cfg)
}

// Enricher builds the named enrichment provider.
func (r *Registry) Enricher(ctx context.Context, name string, cfg *config.Config) (enrichment.Provider, error) {
	r.mu.RLock()
	b, ok := r.enrichers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(Enrich, name)
	}
	return b(ctx, cfg)
}

// Pusher builds the named connector.
func (r *Registry) Pusher(ctx context.Context, name string, cfg *config.Config) (connectors.Pusher, error) {
	r.mu.RLock()
	b, ok := r.pushers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(Push, name)
	}
	return b(ctx, cfg)
}

// Has reports whether a provider is registered for the capability.
func (r *Registry) Has(c Capability, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch c {
	case Parse:
		_, ok := r.parsers[name]
		return ok
	case Enrich:
		_, ok := r.enrichers[name]
		return ok
	case Push:
		_, ok := r.pushers[name]
		return ok
	}
	return false
}

// Names lists the registered providers of a capability in sorted order.
func (r *Registry) Names(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	switch c {
	case Parse:
		names = keys(r.parsers)
	case Enrich:
		names = keys(r.enrichers)
	case Push:
		names = keys(r.pushers)
	}
	sort.Strings(names)
	return names
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func unknown(c Capability, name string) error {
	return fmt.Errorf("%w: no %s provider named %q", ErrUnknownProvider, c, name)
}

// Defaults returns a registry with every built-in provider registered.
// A failed build always returns a nil interface.
func Defaults() *Registry {
	r := New()

	r.RegisterParser("google-vision", func(ctx context.Context, cfg *config.Config) (recognition.Provider, error) {
		p, err := recognition.NewGoogleVision(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterParser("documentai", func(ctx context.Context, cfg *config.Config) (recognition.Provider, error) {
		p, err := recognition.NewDocumentAI(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterParser("azure", func(_ context.Context, cfg *config.Config) (recognition.Provider, error) {
		p, err := recognition.NewAzure(cfg.Azure)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterParser("tesseract", func(_ context.Context, cfg *config.Config) (recognition.Provider, error) {
		return recognition.NewTesseract(cfg.Tesseract)
	})
	r.RegisterParser("plaintext", func(context.Context, *config.Config) (recognition.Provider, error) {
		return recognition.NewPlainText(), nil
	})

	r.RegisterEnricher("openai", func(_ context.Context, cfg *config.Config) (enrichment.Provider, error) {
		p, err := enrichment.NewOpenAI(cfg.OpenAI, cfg.Cache.SchemaVersion)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	r.RegisterPusher("sheets", func(ctx context.Context, cfg *config.Config) (connectors.Pusher, error) {
		p, err := connectors.NewSheets(ctx, cfg.Sheets, cfg.Google)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	r.RegisterPusher("jsonl", func(_ context.Context, cfg *config.Config) (connectors.Pusher, error) {
		return connectors.NewJSONL(cfg.JSONL.Path), nil
	})

	return r
}
