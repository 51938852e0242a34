package queue

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// drainTimeout bounds how long Serve waits for in-flight requests on shutdown.
const drainTimeout = 10 * time.Second

var internalErrorBody = []byte(`{"error":"Internal Server Error"}`)

// NewNATS constructs a thin NATS-based responder.
func NewNATS(log *slog.Logger, nc *nats.Conn) Responder {
	return &natsResponder{log: log, nc: nc}
}

type natsResponder struct {
	log *slog.Logger
	nc  *nats.Conn
}

// Serve answers requests until ctx is done, then drains the subscription and
// returns once every delivered message has been replied to.
func (q *natsResponder) Serve(ctx context.Context, subject string, handler Handler) error {
	// Handlers outlive ctx while the subscription drains.
	handlerCtx := context.WithoutCancel(ctx)
	// Callbacks of one subscription run serially; busy is held while one runs.
	var busy sync.Mutex
	sub, err := q.nc.QueueSubscribe(subject, QueueGroup, func(msg *nats.Msg) {
		busy.Lock()
		defer busy.Unlock()
		q.handleMessage(handlerCtx, msg, handler)
	})
	if err != nil {
		return err
	}
	q.log.Info("nats responder listening", "subject", subject, "group", QueueGroup)
	<-ctx.Done()

	closed := sub.StatusChanged(nats.SubscriptionClosed)
	if err := sub.Drain(); err != nil {
		return err
	}
	// The subscription closes once nothing is pending, which can be before
	// the last callback returns.
	idle := make(chan struct{})
	go func() {
		<-closed
		busy.Lock()
		busy.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		q.log.Info("nats responder drained", "subject", subject)
	case <-time.After(drainTimeout):
		q.log.Warn("nats drain timed out", "subject", subject, "timeout", drainTimeout)
	}
	return nil
}

func (q *natsResponder) handleMessage(ctx context.Context, msg *nats.Msg, handler Handler) {
	id := uuid.NewString()
	log := q.log.With("request_id", id, "subject", msg.Subject)
	if msg.Reply == "" {
		log.Warn("dropping request without reply subject")
		return
	}

	body, status := q.invoke(ctx, log, msg.Data, handler)
	if status == 0 {
		status = http.StatusOK
	}

	resp := nats.NewMsg(msg.Reply)
	resp.Data = body
	resp.Header.Set(StatusHeader, strconv.Itoa(status))
	resp.Header.Set(RequestIDHeader, id)
	if err := msg.RespondMsg(resp); err != nil {
		log.Error("failed to send reply", "err", err)
		return
	}
	log.Debug("request served", "status", status, "bytes", len(body))
}

// invoke runs handler, turning a panic into a 500 reply so the subscription
// goroutine survives.
func (q *natsResponder) invoke(ctx context.Context, log *slog.Logger, data []byte, handler Handler) (body []byte, status int) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic recovered", "panic", rec)
			body, status = internalErrorBody, http.StatusInternalServerError
		}
	}()
	return handler(ctx, data)
}
