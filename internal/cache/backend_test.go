package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend runs the contract every backend must satisfy.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))

	_, ok, err := b.Get(ctx, "recognition:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "recognition:a", []byte("one"), time.Hour))
	require.NoError(t, b.Set(ctx, "recognition:b", []byte("two"), time.Hour))
	require.NoError(t, b.Set(ctx, "enrichment:c:v1", []byte("three"), 0))

	got, ok, err := b.Get(ctx, "recognition:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(got))

	require.NoError(t, b.Set(ctx, "recognition:a", []byte("uno"), time.Hour))
	got, _, _ = b.Get(ctx, "recognition:a")
	assert.Equal(t, "uno", string(got), "set overwrites")

	n, err := b.DeleteByPattern(ctx, "recognition:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ = b.Get(ctx, "recognition:b")
	assert.False(t, ok)
	_, ok, _ = b.Get(ctx, "enrichment:c:v1")
	assert.True(t, ok)

	n, err = b.DeleteByPattern(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestMemoryBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryBackend().WithClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []byte("v"), 0))

	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())

	now = now.Add(365 * 24 * time.Hour)
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemoryBackend_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	value := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	got[1] = 'y'

	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://" + srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	exerciseBackend(t, b)
}

func TestRedisBackend_TTL(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://" + srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 10*time.Second))
	assert.Equal(t, 10*time.Second, srv.TTL("k"))

	srv.FastForward(11 * time.Second)
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackend_Unreachable(t *testing.T) {
	srv := miniredis.NewMiniRedis()
	require.NoError(t, srv.Start())
	addr := srv.Addr()
	srv.Close()

	b, err := NewRedisBackend("redis://" + addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	c := New(context.Background(), b, Options{ProbeTimeout: time.Second})
	assert.False(t, c.Enabled())
}

func TestRedisBackend_CancelledCallerKeepsCacheEnabled(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://" + srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	c := New(ctx, b, Options{TTL: time.Minute, ProbeTimeout: time.Second})
	require.True(t, c.Enabled())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, ok := c.Get(cancelled, "k")
	assert.False(t, ok)
	assert.True(t, c.Enabled(), "a cancelled caller is not a backend failure")

	c.Set(cancelled, "k", []byte("lost"))
	assert.Equal(t, 0, c.Clear(cancelled, "*"))
	assert.True(t, c.Enabled())

	expired, cancelExpired := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancelExpired()
	_, ok = c.Get(expired, "k")
	assert.False(t, ok)
	assert.True(t, c.Enabled())

	c.Set(ctx, "k", []byte("v"))
	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(value))
}

func TestRedisBackend_BadURL(t *testing.T) {
	_, err := NewRedisBackend("://nope")
	assert.Error(t, err)
}

func TestSQLiteBackend(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	exerciseBackend(t, b)
}

func TestSQLiteBackend_Expiry(t *testing.T) {
	ctx := context.Background()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	now = now.Add(2 * time.Minute)

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := b.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteBackend_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
}
