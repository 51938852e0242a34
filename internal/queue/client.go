package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
)

// Request sends payload as JSON to subject and decodes the reply into out.
// It returns the reply status code; decoding happens for every status so
// callers can read error bodies.
func Request(ctx context.Context, nc *nats.Conn, subject string, payload, out any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	reply, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("nats request: %w", err)
	}
	status, err := strconv.Atoi(reply.Header.Get(StatusHeader))
	if err != nil {
		return 0, fmt.Errorf("reply missing %s header", StatusHeader)
	}
	if out != nil {
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return status, fmt.Errorf("decode reply: %w", err)
		}
	}
	return status, nil
}
