// Package embedding turns text into fixed-dimension unit vectors. The
// provider sits behind the Engine interface with two implementations:
// a live OpenAI-compatible HTTP client with retry and a circuit breaker,
// and a deterministic generator used as configured provider or as the
// degraded-mode fallback when the live provider is down or unconfigured.
package embedding

import (
	"context"

	"go.uber.org/zap"

	"mnemo/internal/config"
)

// Engine produces embeddings for texts.
type Engine interface {
	// Embed returns a unit vector of Dimensions() values for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts, preserving order. The bool
	// reports that one or more vectors came from the deterministic
	// fallback, so ranking on them is degraded.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, bool, error)

	// Dimensions is the fixed vector dimension.
	Dimensions() int

	// Name identifies the engine for logs.
	Name() string
}

// NewEngine selects the engine from configuration. An unconfigured API
// key degrades to the deterministic engine: functional behaviour is
// preserved but ranking quality will be poor, so it warns once.
func NewEngine(cfg *config.Config, logger *zap.Logger) (Engine, error) {
	switch cfg.Embedding.Provider {
	case "deterministic":
		return NewDeterministic(cfg.Embedding.Dimensions), nil

	case "openai", "":
		if cfg.Embedding.APIKey == "" {
			logger.Warn("no embedding API key configured, using deterministic fallback vectors")
			return NewDeterministic(cfg.Embedding.Dimensions), nil
		}
		live, err := NewOpenAI(cfg, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Embedding.CacheURL != "" {
			return NewCached(live, cfg, logger)
		}
		return live, nil
	}

	logger.Warn("unknown embedding provider, using deterministic fallback",
		zap.String("provider", cfg.Embedding.Provider))
	return NewDeterministic(cfg.Embedding.Dimensions), nil
}
