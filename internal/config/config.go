package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	LeaseLensAPIKey string

	// Claude extraction oracle
	AnthropicAPIKey string
	AnthropicModel  string

	// Embedding service (optional; char-trigram fallback is used when unset)
	EmbeddingURL    string
	EmbeddingAPIKey string
	EmbeddingModel  string
	EmbeddingDim    int

	// Worker pool
	WorkerCount         int
	MaxQueueSize        int
	MaxConcurrentOracle int

	// Upload limits
	MaxUploadBytes int64

	// Oracle guard
	OracleTimeout      time.Duration
	OracleMaxInputChar int
	OracleCacheTTL     time.Duration

	// Run state
	RunTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		LeaseLensAPIKey: os.Getenv("LEASELENS_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		EmbeddingURL:    os.Getenv("EMBEDDING_URL"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:  envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:    envInt("EMBEDDING_DIM", 384),

		WorkerCount:         envInt("WORKER_COUNT", 4),
		MaxQueueSize:        envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentOracle: envInt("MAX_CONCURRENT_ORACLE", 5),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		OracleTimeout:      envDuration("ORACLE_TIMEOUT", 60*time.Second),
		OracleMaxInputChar: envInt("ORACLE_MAX_INPUT_CHARS", 100000),
		OracleCacheTTL:     envDuration("ORACLE_CACHE_TTL", 1*time.Hour),

		RunTTL: envDuration("RUN_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentOracle <= 0 {
		cfg.MaxConcurrentOracle = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 384
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 60 * time.Second
	}
	if cfg.OracleMaxInputChar <= 0 {
		cfg.OracleMaxInputChar = 100000
	}
	if cfg.OracleCacheTTL <= 0 {
		cfg.OracleCacheTTL = 1 * time.Hour
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.LeaseLensAPIKey == "" {
		return fmt.Errorf("LEASELENS_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
