// Package cache is a content-addressable result cache for recognition and
// enrichment output.
//
// The cache is an optimization only. If the backing store cannot be reached
// when the cache is created, or fails on any later call, the cache disables
// itself and every operation degrades to a miss or a no-op. Failures are
// logged, never returned to the caller. A disabled cache stays disabled until
// Reprobe succeeds. A call whose context is already cancelled or past its
// deadline only misses; it does not disable the cache.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"finscribe/internal/errkind"
	"finscribe/internal/logger"
)

// DefaultTTL is the lifetime of an entry when none is configured.
const DefaultTTL = 24 * time.Hour

// Backend is the key/value store behind a Cache. Implementations need only
// plain get, set-with-expiry and delete-by-pattern semantics.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A zero ttl stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeleteByPattern removes every key matching the glob pattern and returns
	// how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the backend's resources.
	Close() error
}

// Options configures a Cache.
type Options struct {
	// TTL applies to entries written with Set. Zero selects DefaultTTL.
	TTL time.Duration
	// ProbeTimeout bounds the connectivity probe. Zero means no extra bound.
	ProbeTimeout time.Duration
}

// Cache wraps a Backend with the degrade-on-failure policy.
type Cache struct {
	backend Backend
	opts    Options
	enabled atomic.Bool
	log     zerolog.Logger
}

// New creates a Cache over backend and probes it. The returned cache is
// always usable. A nil backend yields a cache that is permanently disabled.
func New(ctx context.Context, backend Backend, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	c := &Cache{
		backend: backend,
		opts:    opts,
		log:     logger.WithComponent("cache"),
	}
	if backend == nil {
		c.log.Info().Msg("Cache disabled, no backend configured")
		return c
	}
	c.log = c.log.With().Str("backend", backend.Name()).Logger()
	c.Reprobe(ctx)
	return c
}

// Disabled returns a cache that never stores anything.
func Disabled() *Cache {
	return New(context.Background(), nil, Options{})
}

// Enabled reports whether the cache currently talks to its backend.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled.Load()
}

// Backend returns the backing store, or nil for a disabled cache.
func (c *Cache) Backend() Backend {
	if c == nil {
		return nil
	}
	return c.backend
}

// Reprobe checks the backend again and enables the cache if it answers.
func (c *Cache) Reprobe(ctx context.Context) bool {
	if c == nil || c.backend == nil {
		return false
	}
	if c.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ProbeTimeout)
		defer cancel()
	}
	if err := c.backend.Ping(ctx); err != nil {
		c.enabled.Store(false)
		c.log.Warn().
			Err(errkind.Wrap(errkind.BackendUnavailable, "cache.Ping", err, "")).
			Msg("Cache backend unreachable, caching disabled")
		return false
	}
	if !c.enabled.Swap(true) {
		c.log.Info().Dur("ttl", c.opts.TTL).Msg("Cache enabled")
	}
	return true
}

// Get returns the value stored under key. A disabled cache or a backend
// failure reports a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	value, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.fail(ctx, "cache.Get", key, err)
		return nil, false
	}
	if ok {
		c.log.Debug().Str("key", key).Msg("Cache hit")
	}
	return value, ok
}

// Set stores value under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.SetWithTTL(ctx, key, value, c.opts.TTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.fail(ctx, "cache.Set", key, err)
	}
}

// Clear removes every entry whose key matches the glob pattern. An empty
// pattern clears everything. It returns the number of removed entries, 0 for
// a disabled cache or on failure.
func (c *Cache) Clear(ctx context.Context, pattern string) int {
	if !c.Enabled() {
		return 0
	}
	if pattern == "" {
		pattern = "*"
	}
	n, err := c.backend.DeleteByPattern(ctx, pattern)
	if err != nil {
		c.fail(ctx, "cache.Clear", pattern, err)
		return 0
	}
	c.log.Info().Str("pattern", pattern).Int("deleted", n).Msg("Cache cleared")
	return n
}

// GetJSON decodes the value stored under key into v. A value that does not
// decode counts as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cached value could not be decoded, treating as miss")
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Value could not be encoded, not cached")
		return
	}
	c.Set(ctx, key, data)
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	c.enabled.Store(false)
	return c.backend.Close()
}

// fail handles a backend error. An error caused by the caller's own context
// ending says nothing about the backend, so the cache stays enabled.
func (c *Cache) fail(ctx context.Context, op, key string, err error) {
	if ctx.Err() != nil {
		c.log.Debug().Err(err).Str("op", op).Str("key", key).Msg("Cache operation abandoned, context done")
		return
	}
	c.disable(op, key, err)
}

func (c *Cache) disable(op, key string, err error) {
	if c.enabled.Swap(false) {
		c.log.Warn().
			Err(errkind.Wrap(errkind.BackendUnavailable, op, err, "")).
			Str("key", key).
			Msg("Cache backend failed, caching disabled")
	}
}
