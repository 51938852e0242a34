package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the embedding service.
type Config struct {
	// Server
	Port            int    `env:"PORT" envDefault:"8000"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"10"` // seconds

	// Request limits
	MaxBodySize int64 `env:"MAX_BODY_SIZE" envDefault:"10485760"` // 10MB in bytes
	MaxTexts    int   `env:"MAX_TEXTS" envDefault:"2048"`

	// Embeddings
	EmbeddingProvider string `env:"EMBEDDING_PROVIDER" envDefault:"fastembed"` // "fastembed" (local ONNX) or "openai"
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"BAAI/bge-small-en-v1.5"`
	ModelCacheDir     string `env:"MODEL_CACHE_DIR" envDefault:"local_cache"`
	ModelMaxLength    int    `env:"MODEL_MAX_LENGTH" envDefault:"512"`
	BatchSize         int    `env:"BATCH_SIZE" envDefault:"256"`
	OpenAIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none"` // "none" or "redis"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// Queue
	QueueURL     string `env:"QUEUE_URL"` // empty disables the NATS responder
	EmbedSubject string `env:"EMBED_SUBJECT" envDefault:"embeddings.embed"`
}

// Load reads configuration from environment variables with defaults.
// A value that does not parse is an error rather than a silent zero.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
