package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"mnemo/internal/config"
	"mnemo/internal/types"
)

// OpenAI calls any OpenAI-compatible /embeddings endpoint. Transient
// failures (429, 5xx, timeouts) are retried with exponential backoff and
// jitter; a circuit breaker in front makes a dead provider degrade fast.
// When retries are exhausted or the breaker is open, it falls back to
// the deterministic vector for that input.
type OpenAI struct {
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[][]float32]
	fallback   *Deterministic
	logger     *zap.Logger
	baseURL    string
	apiKey     string
	model      string
	dims       int
	maxRetries int
}

// NewOpenAI builds the live engine from configuration.
func NewOpenAI(cfg *config.Config, logger *zap.Logger) (*OpenAI, error) {
	if cfg.Embedding.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}

	settings := gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &OpenAI{
		client:     &http.Client{Timeout: cfg.GetEmbeddingTimeout()},
		breaker:    gobreaker.NewCircuitBreaker[[][]float32](settings),
		fallback:   NewDeterministic(cfg.Embedding.Dimensions),
		logger:     logger,
		baseURL:    cfg.Embedding.BaseURL,
		apiKey:     cfg.Embedding.APIKey,
		model:      cfg.Embedding.Model,
		dims:       cfg.Embedding.Dimensions,
		maxRetries: cfg.Embedding.MaxRetries,
	}, nil
}

func (o *OpenAI) Name() string    { return "openai" }
func (o *OpenAI) Dimensions() int { return o.dims }

// Embed embeds one text.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one provider call, falling back to
// deterministic vectors when the provider is unreachable. The bool
// reports that the fallback served this call.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error) {
	if len(texts) == 0 {
		return nil, false, nil
	}

	vecs, err := o.breaker.Execute(func() ([][]float32, error) {
		return o.embedWithRetry(ctx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		o.logger.Warn("embedding provider unavailable, using deterministic fallback",
			zap.Int("texts", len(texts)), zap.Error(err))
		return o.fallback.EmbedBatch(ctx, texts)
	}
	return vecs, false, nil
}

func (o *OpenAI) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32

	op := func() error {
		var err error
		vecs, err = o.embedOnce(ctx, texts)
		if err != nil && !types.IsKind(err, types.KindTransient) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(o.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return vecs, nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: o.model})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, types.Transientf(err, "embedding request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, types.Transientf(nil, "embedding provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding provider returned %d: %s", resp.StatusCode, msg)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, types.Transientf(err, "decoding embed response")
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts",
			len(decoded.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != o.dims {
			return nil, fmt.Errorf("embedding provider returned %d dimensions, want %d",
				len(d.Embedding), o.dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
