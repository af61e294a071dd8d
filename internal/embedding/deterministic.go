package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// Deterministic generates pseudo-random unit vectors seeded from a
// stable hash of the input, so the same text always embeds to the same
// vector across process restarts. Functional tests rely on this; callers
// must expect poor ranking quality in degraded operation.
type Deterministic struct {
	dims int
}

// NewDeterministic creates a deterministic engine of the given dimension.
func NewDeterministic(dims int) *Deterministic {
	if dims <= 0 {
		dims = 1536
	}
	return &Deterministic{dims: dims}
}

func (d *Deterministic) Name() string    { return "deterministic" }
func (d *Deterministic) Dimensions() int { return d.dims }

// Embed returns the unit vector for the text. Never fails.
func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	return d.vector(text), nil
}

// EmbedBatch embeds each text independently. Deterministic vectors are
// always degraded: they carry no semantics.
func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) ([][]float32, bool, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.vector(t)
	}
	return out, true, nil
}

func (d *Deterministic) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, d.dims)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
