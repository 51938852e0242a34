package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"embed-service/internal/cache"
	"embed-service/internal/config"
	"embed-service/internal/embeddings"
	"embed-service/internal/logger"
	"embed-service/internal/queue"
)

// Deps bundles the runtime dependencies of the embedding service.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Provider  embeddings.Provider
	Cache     cache.Cache
	Dim       int
	NC        *nats.Conn
	Responder queue.Responder
}

// Build loads env, config and shared components. The model is loaded and
// probed before Build returns; any failure here must stop the process.
func Build(ctx context.Context) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	base, err := buildProvider(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedding model: %w", err)
	}
	provider := embeddings.Provider(embeddings.NewInstrumented(base))

	start := time.Now()
	dim, err := embeddings.Probe(ctx, provider)
	if err != nil {
		base.Close()
		return Deps{}, fmt.Errorf("embedding model failed warm-up: %w", err)
	}
	log.Info("embedding model ready", "model", provider.Model(), "dim", dim, "warmup_ms", time.Since(start).Milliseconds())

	c := buildCache(cfg, log)
	if _, ok := c.(*cache.NoOpCache); !ok {
		provider = embeddings.NewCached(provider, c, time.Duration(cfg.CacheTTL)*time.Second, log)
	}

	deps := Deps{
		Config:   cfg,
		Log:      log,
		Provider: provider,
		Cache:    c,
		Dim:      dim,
	}

	if cfg.QueueURL != "" {
		nc, err := queue.ConnectWithRetry(ctx, log, cfg.QueueURL, 5, 200*time.Millisecond)
		if err != nil {
			deps.Close()
			return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
		}
		log.Info("using NATS responder", "subject", cfg.EmbedSubject)
		deps.NC = nc
		deps.Responder = queue.NewNATS(log, nc)
	}
	return deps, nil
}

// Close releases the model, cache and queue connection.
func (d Deps) Close() {
	if d.NC != nil {
		d.NC.Close()
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Log.Warn("failed to close cache", "err", err)
		}
	}
	if d.Provider != nil {
		if err := d.Provider.Close(); err != nil {
			d.Log.Warn("failed to close embedding model", "err", err)
		}
	}
}

func buildProvider(cfg config.Config, log *slog.Logger) (embeddings.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "fastembed":
		p, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
			Model:     cfg.EmbeddingModel,
			CacheDir:  cfg.ModelCacheDir,
			MaxLength: cfg.ModelMaxLength,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize FastEmbed provider: %w", err)
		}
		log.Info("using FastEmbed provider", "model", cfg.EmbeddingModel, "cache_dir", cfg.ModelCacheDir)
		return p, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		p, err := embeddings.NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL, openai.EmbeddingModel(cfg.EmbeddingModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI provider: %w", err)
		}
		log.Info("using OpenAI provider", "model", cfg.EmbeddingModel, "base_url", cfg.OpenAIBaseURL)
		return p, nil
	default:
		return nil, fmt.Errorf("%w: invalid EMBEDDING_PROVIDER: %s (valid options: fastembed, openai)", embeddings.ErrInvalidConfig, cfg.EmbeddingProvider)
	}
}

// buildCache never fails: the cache only accelerates, so an unreachable
// Redis falls back to no caching.
func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis vector cache", "addr", cfg.RedisAddr, "ttl_s", cfg.CacheTTL)
		return c
	case "none", "":
		return cache.NewNoOpCache()
	default:
		log.Warn("unknown CACHE_PROVIDER, caching disabled", "cache_provider", cfg.CacheProvider)
		return cache.NewNoOpCache()
	}
}
