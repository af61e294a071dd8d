package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mnemo/internal/config"
)

// Cached puts a Redis cache in front of a live engine, keyed by a hash
// of the text and the model dimension. Cache failures are logged and
// ignored: the cache is never authoritative.
type Cached struct {
	inner  Engine
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	prefix string
}

// NewCached wraps the engine with the configured Redis cache.
func NewCached(inner Engine, cfg *config.Config, logger *zap.Logger) (*Cached, error) {
	opts, err := redis.ParseURL(cfg.Embedding.CacheURL)
	if err != nil {
		return nil, err
	}
	return &Cached{
		inner:  inner,
		client: redis.NewClient(opts),
		ttl:    cfg.GetCacheTTL(),
		logger: logger,
		prefix: "mnemo:emb:" + cfg.Embedding.Model + ":",
	}, nil
}

func (c *Cached) Name() string    { return c.inner.Name() + "+cache" }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Close releases the Redis client.
func (c *Cached) Close() error { return c.client.Close() }

// Embed returns the cached vector or embeds and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from cache and embeds only the misses.
// Fallback vectors are never written to the cache: a cached degraded
// vector would outlive the provider outage that produced it.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if vec, ok := c.get(ctx, c.key(t)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, false, nil
	}

	vecs, degraded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, false, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		if !degraded {
			c.set(ctx, c.key(missTexts[j]), vec)
		}
	}
	return out, degraded, nil
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *Cached) get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	if len(raw)%4 != 0 || len(raw)/4 != c.inner.Dimensions() {
		return nil, false
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true
}

func (c *Cached) set(ctx context.Context, key string, vec []float32) {
	raw := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("embedding cache write failed", zap.Error(err))
	}
}
