package retry

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Policy returns an exponential backoff for up to attempts tries in total.
// Delays start at base, double each retry and never exceed limit before
// jitter. A non-positive limit means no limit. The policy stops as soon as
// ctx is done.
func Policy(ctx context.Context, attempts int, base, limit time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	if limit > 0 {
		exp.MaxInterval = limit
	}
	// Attempts bound the loop, not wall time.
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}
