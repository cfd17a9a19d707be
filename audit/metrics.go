package audit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Metrics wraps the OpenTelemetry counters GET /metrics and the
// processing loop report into, per spec.md §6 ("GET /metrics — counters
// + ring sizes").
type Metrics struct {
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	forwarded metric.Int64Counter
	errors    metric.Int64Counter
}

// NewMetrics registers the gateway's counters against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	processed, err := meter.Int64Counter("chittyrouter.envelopes.processed")
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("chittyrouter.envelopes.dropped")
	if err != nil {
		return nil, err
	}
	forwarded, err := meter.Int64Counter("chittyrouter.forward.attempts")
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("chittyrouter.errors")
	if err != nil {
		return nil, err
	}
	return &Metrics{processed: processed, dropped: dropped, forwarded: forwarded, errors: errs}, nil
}

// RecordProcessed increments the processed counter for one completed
// pipeline run.
func (m *Metrics) RecordProcessed(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.processed.Add(ctx, 1, metric.WithAttributes(attrString("category", category)))
}

// RecordDropped increments the dropped counter with the drop reason.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(attrString("reason", reason)))
}

// RecordForward increments the forward-attempt counter, tagged by
// outcome.
func (m *Metrics) RecordForward(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.forwarded.Add(ctx, 1, metric.WithAttributes(attrString("outcome", outcome)))
}

// RecordError increments the error counter, tagged by error kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attrString("kind", kind)))
}
