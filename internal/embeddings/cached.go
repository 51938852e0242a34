package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"embed-service/internal/cache"
	"embed-service/internal/metrics"
)

// Cached serves previously computed vectors from a cache and sends only
// misses to the wrapped provider. Cache failures degrade to misses.
type Cached struct {
	Provider
	cache cache.Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCached wraps p with c.
func NewCached(p Provider, c cache.Cache, ttl time.Duration, log *slog.Logger) *Cached {
	return &Cached{Provider: p, cache: c, ttl: ttl, log: log}
}

func (c *Cached) Encode(ctx context.Context, texts []string, normalize bool) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}
	model := c.Provider.Model()
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cache.GenerateCacheKey(model, normalize, t)
	}

	hits, err := c.cache.GetVectors(ctx, keys)
	if err == nil && len(hits) != len(keys) {
		err = fmt.Errorf("cache returned %d entries for %d keys", len(hits), len(keys))
	}
	if err != nil {
		c.log.Warn("vector cache read failed", "err", err)
		metrics.CacheLookupsTotal.WithLabelValues("error").Add(float64(len(keys)))
		hits = make([][]float32, len(keys))
	}

	out := make([]Vector, len(texts))
	var missTexts []string
	var missIdx []int
	for i, h := range hits {
		if h != nil {
			out[i] = Vector(h)
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	if err == nil {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Add(float64(len(texts) - len(missIdx)))
		metrics.CacheLookupsTotal.WithLabelValues("miss").Add(float64(len(missIdx)))
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.Provider.Encode(ctx, missTexts, normalize)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(fresh), len(missTexts))
	}

	entries := make(map[string][]float32, len(fresh))
	for j, v := range fresh {
		i := missIdx[j]
		out[i] = v
		entries[keys[i]] = v
	}
	for i := 1; i < len(out); i++ {
		if len(out[i]) != len(out[0]) {
			return nil, fmt.Errorf("%w: cached and fresh vectors differ in dimension", ErrEmbeddingFailed)
		}
	}
	if err := c.cache.SetVectors(ctx, entries, c.ttl); err != nil {
		c.log.Warn("vector cache write failed", "err", err)
	}
	return out, nil
}
