package retry

import (
	"context"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestPolicyStopsAfterAttempts(t *testing.T) {
	tests := []struct {
		attempts int
		retries  int
	}{
		{attempts: 1, retries: 0},
		{attempts: 3, retries: 2},
		{attempts: 5, retries: 4},
		{attempts: 0, retries: 0}, // clamps to a single try
	}

	for _, tt := range tests {
		b := Policy(context.Background(), tt.attempts, time.Millisecond, time.Second)
		retries := 0
		for b.NextBackOff() != backoff.Stop {
			retries++
		}
		if retries != tt.retries {
			t.Errorf("attempts %d: got %d retries, want %d", tt.attempts, retries, tt.retries)
		}
	}
}

func TestPolicyGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 400 * time.Millisecond
	b := Policy(context.Background(), 10, base, limit)

	jitter := backoff.DefaultRandomizationFactor
	slack := time.Millisecond
	first := b.NextBackOff()
	assert.GreaterOrEqual(t, first, time.Duration(float64(base)*(1-jitter)))
	assert.LessOrEqual(t, first, time.Duration(float64(base)*(1+jitter))+slack)

	for i := 0; i < 8; i++ {
		d := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, d)
		assert.LessOrEqual(t, d, time.Duration(float64(limit)*(1+jitter))+slack)
	}
}

func TestPolicyStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := Policy(ctx, 10, time.Millisecond, time.Second)
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())

	cancel()
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
