package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores computed embedding vectors keyed by GenerateCacheKey.
type Cache interface {
	// GetVectors returns one entry per key, in key order.
	// A nil entry is a cache miss.
	GetVectors(ctx context.Context, keys []string) ([][]float32, error)

	// SetVectors stores vectors with TTL
	SetVectors(ctx context.Context, entries map[string][]float32, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// GenerateCacheKey derives a stable key for one text under one model and
// normalization setting.
func GenerateCacheKey(model string, normalize bool, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	if normalize {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
