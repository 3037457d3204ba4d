package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend wraps a MemoryBackend and fails every call while down is set.
type flakyBackend struct {
	*MemoryBackend
	mu    sync.Mutex
	down  bool
	calls int
}

var errDown = errors.New("connection refused")

func (f *flakyBackend) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errDown
	}
	return nil
}

func (f *flakyBackend) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.fail(); err != nil {
		return nil, false, err
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if err := f.fail(); err != nil {
		return 0, err
	}
	return f.MemoryBackend.DeleteByPattern(ctx, pattern)
}

func (f *flakyBackend) Ping(context.Context) error { return f.fail() }

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, NewMemoryBackend(), Options{})
	require.True(t, c.Enabled())

	_, ok := c.Get(ctx, "recognition:abc")
	assert.False(t, ok)

	c.Set(ctx, "recognition:abc", []byte(`{"text":"hi"}`))
	got, ok := c.Get(ctx, "recognition:abc")
	require.True(t, ok)
	assert.Equal(t, `{"text":"hi"}`, string(got))
}

func TestCache_JSON(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, NewMemoryBackend(), Options{})

	type payload struct {
		Total float64 `json:"total"`
	}
	c.SetJSON(ctx, "k", payload{Total: 5.38})

	var out payload
	require.True(t, c.GetJSON(ctx, "k", &out))
	assert.Equal(t, 5.38, out.Total)

	c.Set(ctx, "broken", []byte("{not json"))
	assert.False(t, c.GetJSON(ctx, "broken", &out), "undecodable value is a miss")
}

func TestCache_UnreachableAtConstruction(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), down: true}
	c := New(ctx, backend, Options{})

	assert.False(t, c.Enabled())

	c.Set(ctx, "k", []byte("v"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Clear(ctx, "*"))
	assert.Equal(t, 1, backend.calls, "a disabled cache does not touch the backend")

	backend.setDown(false)
	require.True(t, c.Reprobe(ctx))
	c.Set(ctx, "k", []byte("v"))
	_, ok = c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestCache_FailureMidwayDisables(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	c := New(ctx, backend, Options{})
	require.True(t, c.Enabled())

	c.Set(ctx, "k", []byte("v"))
	backend.setDown(true)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Enabled())

	backend.setDown(false)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "stays disabled until reprobed")
}

func TestCache_NilBackend(t *testing.T) {
	ctx := context.Background()
	c := Disabled()

	assert.False(t, c.Enabled())
	assert.False(t, c.Reprobe(ctx))
	c.Set(ctx, "k", []byte("v"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())

	var nilCache *Cache
	assert.False(t, nilCache.Enabled())
	_, ok = nilCache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, NewMemoryBackend(), Options{})
	c.Set(ctx, "recognition:a", []byte("1"))
	c.Set(ctx, "recognition:b", []byte("2"))
	c.Set(ctx, "enrichment:c:v1", []byte("3"))
	c.Set(ctx, "enrichment:d:v2", []byte("4"))

	assert.Equal(t, 1, c.Clear(ctx, "enrichment:*:v1"))
	assert.Equal(t, 2, c.Clear(ctx, "recognition:*"))
	assert.Equal(t, 1, c.Clear(ctx, ""))

	_, ok := c.Get(ctx, "enrichment:d:v2")
	assert.False(t, ok)
}

func TestCache_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, NewMemoryBackend(), Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set(ctx, "same", []byte("value"))
			_, _ = c.Get(ctx, "same")
		}()
	}
	wg.Wait()

	got, ok := c.Get(ctx, "same")
	require.True(t, ok)
	assert.Equal(t, "value", string(got))
}
