// Package config loads mnemo configuration from an optional YAML file
// with environment-variable overrides. Defaults are complete: the service
// runs with no config file as long as a database URL is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all mnemo configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Postgres connection and pool
	Database DatabaseConfig `yaml:"database"`

	// Embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Row-level access control
	Access AccessConfig `yaml:"access"`

	// Hybrid search and fusion
	Search SearchConfig `yaml:"search"`

	// Working-memory bounds
	WorkingMemory WorkingMemoryConfig `yaml:"working_memory"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	AcquireTimeout string `yaml:"acquire_timeout"`

	// pgvector iterative-scan knobs applied per acquired connection.
	// relaxed_order trades exact ordering for recall on filtered scans.
	IterativeScan string `yaml:"iterative_scan"` // relaxed_order, strict_order, off
	MaxScanTuples int    `yaml:"max_scan_tuples"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai, deterministic
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`

	// Optional Redis cache in front of the live provider.
	CacheURL string `yaml:"cache_url"`
	CacheTTL string `yaml:"cache_ttl"`
}

// AccessConfig configures the row-level isolation rollout.
type AccessConfig struct {
	// DefaultPhase applies to projects with no rls_status row.
	DefaultPhase string `yaml:"default_phase"` // pending, shadow, enforcing

	// ShadowSampleN probes 1 in N reads while a project is in shadow
	// phase; 0 disables probing.
	ShadowSampleN int `yaml:"shadow_sample_n"`

	// AllowBypass permits assuming the emergency bypass role.
	AllowBypass bool `yaml:"allow_bypass"`
}

// SearchConfig configures hybrid search and fusion.
type SearchConfig struct {
	DefaultTopK   int `yaml:"default_top_k"`
	PerSourceK    int `yaml:"per_source_k"` // candidates fetched per generator
	RRFK          int `yaml:"rrf_k"`
	MaxVariants   int `yaml:"max_variants"` // query plus expansions
	GraphSeeds    int `yaml:"graph_seeds"`  // seed nodes matched per query
	GraphMaxDepth int `yaml:"graph_max_depth"`
}

// WorkingMemoryConfig bounds per-project working memory.
type WorkingMemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`   // empty logs to stderr

	// Rotation, used only when File is set.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mnemo",
		Version: "1.2.0",

		Database: DatabaseConfig{
			MaxConns:       8,
			AcquireTimeout: "5s",
			IterativeScan:  "relaxed_order",
			MaxScanTuples:  20000,
		},

		Embedding: EmbeddingConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			Timeout:    "30s",
			MaxRetries: 4,
			CacheTTL:   "24h",
		},

		Access: AccessConfig{
			DefaultPhase:  "pending",
			ShadowSampleN: 16,
			AllowBypass:   false,
		},

		Search: SearchConfig{
			DefaultTopK:   10,
			PerSourceK:    40,
			RRFK:          60,
			MaxVariants:   4,
			GraphSeeds:    5,
			GraphMaxDepth: 1,
		},

		WorkingMemory: WorkingMemoryConfig{
			Capacity: 64,
		},

		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Database URL (check in priority order)
	if url := os.Getenv("MNEMO_DATABASE_URL"); url != "" {
		c.Database.URL = url
	} else if url := os.Getenv("DATABASE_URL"); url != "" && c.Database.URL == "" {
		c.Database.URL = url
	}

	// Embedding key and endpoint
	if key := os.Getenv("MNEMO_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}
	if url := os.Getenv("MNEMO_EMBEDDING_URL"); url != "" {
		c.Embedding.BaseURL = url
	}
	if url := os.Getenv("MNEMO_REDIS_URL"); url != "" {
		c.Embedding.CacheURL = url
	}

	// Global phase override for staged rollouts
	if phase := os.Getenv("MNEMO_RLS_PHASE"); phase != "" {
		c.Access.DefaultPhase = phase
	}
}

// GetAcquireTimeout returns the pool acquire timeout as a duration.
func (c *Config) GetAcquireTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.AcquireTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetEmbeddingTimeout returns the embedding call timeout as a duration.
func (c *Config) GetEmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetCacheTTL returns the embedding cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Embedding.CacheTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ValidPhases lists the supported rollout phases.
var ValidPhases = []string{"pending", "shadow", "enforcing"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL not configured (set MNEMO_DATABASE_URL or DATABASE_URL)")
	}

	validPhase := false
	for _, p := range ValidPhases {
		if c.Access.DefaultPhase == p {
			validPhase = true
			break
		}
	}
	if !validPhase {
		return fmt.Errorf("invalid access phase: %s (valid: %v)", c.Access.DefaultPhase, ValidPhases)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.MaxVariants < 1 {
		return fmt.Errorf("search max_variants must be at least 1, got %d", c.Search.MaxVariants)
	}
	if c.WorkingMemory.Capacity < 1 {
		return fmt.Errorf("working memory capacity must be at least 1, got %d", c.WorkingMemory.Capacity)
	}

	return nil
}
