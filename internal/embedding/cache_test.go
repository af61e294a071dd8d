package embedding

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo/internal/config"
)

// countingEngine wraps Deterministic as a stand-in provider and counts
// calls. degraded simulates the provider serving fallback vectors.
type countingEngine struct {
	*Deterministic
	calls    int
	degraded bool
}

func (c *countingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.Deterministic.Embed(ctx, text)
}

func (c *countingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error) {
	c.calls += len(texts)
	vecs, _, err := c.Deterministic.EmbedBatch(ctx, texts)
	return vecs, c.degraded, err
}

func newTestCache(t *testing.T, inner Engine) *Cached {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Embedding.CacheURL = "redis://" + mr.Addr()
	cfg.Embedding.Dimensions = inner.Dimensions()

	cache, err := NewCached(inner, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCachedServesSecondReadFromCache(t *testing.T) {
	inner := &countingEngine{Deterministic: NewDeterministic(64)}
	cache := newTestCache(t, inner)

	first, err := cache.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := cache.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedBatchEmbedsOnlyMisses(t *testing.T) {
	inner := &countingEngine{Deterministic: NewDeterministic(32)}
	cache := newTestCache(t, inner)

	_, err := cache.Embed(context.Background(), "warm")
	require.NoError(t, err)

	vecs, degraded, err := cache.EmbedBatch(context.Background(), []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.False(t, degraded)
	assert.Equal(t, 2, inner.calls) // one warm call earlier, one miss now
}

func TestCachedSkipsCachingFallbackVectors(t *testing.T) {
	inner := &countingEngine{Deterministic: NewDeterministic(32), degraded: true}
	cache := newTestCache(t, inner)

	_, degraded, err := cache.EmbedBatch(context.Background(), []string{"outage"})
	require.NoError(t, err)
	assert.True(t, degraded)

	// Nothing was cached, so the same text misses again.
	_, _, err = cache.EmbedBatch(context.Background(), []string{"outage"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	// Once the provider recovers its vectors are cached as usual.
	inner.degraded = false
	_, degraded, err = cache.EmbedBatch(context.Background(), []string{"outage"})
	require.NoError(t, err)
	assert.False(t, degraded)
	_, degraded, err = cache.EmbedBatch(context.Background(), []string{"outage"})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, 3, inner.calls)
}

func TestCachedIgnoresCorruptEntries(t *testing.T) {
	inner := &countingEngine{Deterministic: NewDeterministic(16)}
	mr := miniredis.RunT(t)

	cfg := config.DefaultConfig()
	cfg.Embedding.CacheURL = "redis://" + mr.Addr()

	cache, err := NewCached(inner, cfg, zap.NewNop())
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, mr.Set(cache.key("poisoned"), "not-a-vector"))

	vec, err := cache.Embed(context.Background(), "poisoned")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 1, inner.calls)
}
