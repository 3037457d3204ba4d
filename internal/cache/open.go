package cache

import (
	"context"
	"fmt"
	"time"

	"finscribe/internal/config"
	"finscribe/internal/logger"
)

// NewBackend builds the backend selected by cfg.Backend. It returns nil for
// the "none" backend.
func NewBackend(ctx context.Context, cfg config.CacheSection) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "none":
		return nil, nil
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("cache backend redis requires REDIS_URL")
		}
		return NewRedisBackend(cfg.RedisURL)
	case "sqlite":
		return NewSQLiteBackend(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("cache backend postgres requires DATABASE_URL")
		}
		return NewPostgresBackend(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Open builds the configured backend and wraps it in a Cache. A backend that
// cannot be constructed yields a disabled cache.
func Open(ctx context.Context, cfg config.CacheSection) *Cache {
	opts := Options{
		TTL:          time.Duration(cfg.TTLSeconds) * time.Second,
		ProbeTimeout: time.Duration(cfg.ProbeTimeout) * time.Second,
	}
	buildCtx := ctx
	if opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, opts.ProbeTimeout)
		defer cancel()
	}
	backend, err := NewBackend(buildCtx, cfg)
	if err != nil {
		log := logger.WithComponent("cache")
		log.Warn().Err(err).Str("backend", cfg.Backend).Msg("Cache backend unavailable, caching disabled")
		return New(ctx, nil, opts)
	}
	return New(ctx, backend, opts)
}
