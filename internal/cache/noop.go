package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used when caching is disabled or Redis is unavailable - all operations
// succeed but every lookup is a miss.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetVectors always returns all misses
func (c *NoOpCache) GetVectors(ctx context.Context, keys []string) ([][]float32, error) {
	return make([][]float32, len(keys)), nil
}

// SetVectors does nothing and always succeeds
func (c *NoOpCache) SetVectors(ctx context.Context, entries map[string][]float32, ttl time.Duration) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
