package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicStableAcrossCalls(t *testing.T) {
	eng := NewDeterministic(1536)

	a, err := eng.Embed(context.Background(), "the same input")
	require.NoError(t, err)
	b, err := eng.Embed(context.Background(), "the same input")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 1536)
}

func TestDeterministicDistinctInputsDiffer(t *testing.T) {
	eng := NewDeterministic(64)

	a, err := eng.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	b, err := eng.Embed(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDeterministicUnitNorm(t *testing.T) {
	eng := NewDeterministic(1536)

	vec, err := eng.Embed(context.Background(), "norm check")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestDeterministicBatchMatchesSingle(t *testing.T) {
	eng := NewDeterministic(32)

	single, err := eng.Embed(context.Background(), "x")
	require.NoError(t, err)
	batch, degraded, err := eng.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)

	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[0])
	assert.True(t, degraded)
}

func TestDeterministicDefaultsDimension(t *testing.T) {
	eng := NewDeterministic(0)
	assert.Equal(t, 1536, eng.Dimensions())
}
