package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"embed-service/internal/retry"
)

const (
	// StatusHeader carries the HTTP-equivalent status code of a reply.
	StatusHeader = "Embed-Status"

	// RequestIDHeader carries the correlation id assigned to a request.
	RequestIDHeader = "Embed-Request-Id"

	// QueueGroup load-balances requests across service replicas.
	QueueGroup = "embedders"

	maxConnectBackoff = 5 * time.Second
)

// Handler turns one request payload into a reply payload and a status code.
type Handler func(ctx context.Context, data []byte) ([]byte, int)

// Responder serves request/reply traffic on a subject until ctx is done.
type Responder interface {
	Serve(ctx context.Context, subject string, handler Handler) error
}

// ConnectWithRetry dials NATS with exponential backoff between attempts.
func ConnectWithRetry(ctx context.Context, log *slog.Logger, url string, attempts int, base time.Duration) (*nats.Conn, error) {
	tries := 0
	nc, err := backoff.RetryNotifyWithData(func() (*nats.Conn, error) {
		tries++
		return nats.Connect(url, nats.Name("embedder"))
	}, retry.Policy(ctx, attempts, base, maxConnectBackoff), func(err error, delay time.Duration) {
		log.Warn("nats connect failed, retrying", "attempt", tries, "delay", delay, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS after %d attempts: %w", tries, err)
	}
	return nc, nil
}
