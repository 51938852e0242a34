package embeddings

import (
	"context"
	"time"

	"embed-service/internal/metrics"
)

// Instrumented records encode latency, batch size and errors for the
// wrapped provider. Empty batches are not recorded.
type Instrumented struct {
	Provider
}

// NewInstrumented wraps p with Prometheus instrumentation.
func NewInstrumented(p Provider) *Instrumented {
	return &Instrumented{Provider: p}
}

func (i *Instrumented) Encode(ctx context.Context, texts []string, normalize bool) ([]Vector, error) {
	if len(texts) == 0 {
		return i.Provider.Encode(ctx, texts, normalize)
	}
	model := i.Provider.Model()
	start := time.Now()
	vecs, err := i.Provider.Encode(ctx, texts, normalize)

	result := "ok"
	if err != nil {
		result = "error"
		metrics.EncodeErrorsTotal.WithLabelValues(model).Inc()
	}
	metrics.EncodeDuration.WithLabelValues(model, result).Observe(time.Since(start).Seconds())
	metrics.EncodeBatchSize.WithLabelValues(model).Observe(float64(len(texts)))
	return vecs, err
}
