package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo/internal/config"
)

func testEmbedConfig(url string, dims int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.BaseURL = url
	cfg.Embedding.APIKey = "test-key"
	cfg.Embedding.Dimensions = dims
	cfg.Embedding.MaxRetries = 2
	return cfg
}

func embedHandler(t *testing.T, dims int, fail *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Add(-1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		resp := embedResponse{}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = 1
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: vec})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestOpenAIEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 8, nil))
	defer srv.Close()

	eng, err := NewOpenAI(testEmbedConfig(srv.URL, 8), zap.NewNop())
	require.NoError(t, err)

	vecs, degraded, err := eng.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
	assert.False(t, degraded)
}

func TestOpenAIRetriesTransientFailures(t *testing.T) {
	var fail atomic.Int32
	fail.Store(2) // first two attempts 500, then succeed

	srv := httptest.NewServer(embedHandler(t, 4, &fail))
	defer srv.Close()

	eng, err := NewOpenAI(testEmbedConfig(srv.URL, 4), zap.NewNop())
	require.NoError(t, err)

	vecs, degraded, err := eng.EmbedBatch(context.Background(), []string{"retry me"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.False(t, degraded, "a retried success is not degraded")
}

func TestOpenAIFallsBackWhenProviderDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	eng, err := NewOpenAI(testEmbedConfig(srv.URL, 16), zap.NewNop())
	require.NoError(t, err)

	vecs, degraded, err := eng.EmbedBatch(context.Background(), []string{"degraded"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Len(t, vecs[0], 16)
	assert.True(t, degraded, "fallback vectors must be reported per call")

	// The fallback is the deterministic engine, so it is stable.
	again, err := eng.fallback.Embed(context.Background(), "degraded")
	require.NoError(t, err)
	assert.Equal(t, again, vecs[0])
}

func TestOpenAIDimensionMismatchIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := embedResponse{}
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{Index: 0, Embedding: []float32{1, 2}}) // wrong dims
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	eng, err := NewOpenAI(testEmbedConfig(srv.URL, 8), zap.NewNop())
	require.NoError(t, err)

	// Falls back rather than erroring, but must not have retried a
	// permanent failure.
	vec, err := eng.Embed(context.Background(), "bad dims")
	require.NoError(t, err)
	require.Len(t, vec, 8)
	assert.Equal(t, int32(1), calls.Load())
}
