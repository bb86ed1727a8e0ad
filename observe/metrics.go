package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records one wrapped execution, such as a webhook handler run.
// Implementations are safe for concurrent use and return quickly.
type Metrics interface {
	RecordExecution(ctx context.Context, meta CallMeta, duration time.Duration, err error)
}

// execMetrics publishes payrelay.exec.* instruments.
type execMetrics struct {
	total    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics registers the execution instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newExecMetrics(meter)
}

func newExecMetrics(meter metric.Meter) (*execMetrics, error) {
	m := &execMetrics{}
	var err error
	if m.total, err = meter.Int64Counter("payrelay.exec.total",
		metric.WithDescription("Wrapped executions, by kind and name"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("payrelay.exec.errors",
		metric.WithDescription("Wrapped executions that returned an error"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("payrelay.exec.duration_ms",
		metric.WithDescription("Wrapped execution duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *execMetrics) RecordExecution(ctx context.Context, meta CallMeta, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("payrelay.kind", meta.kind()),
		attribute.String("payrelay.name", meta.Name),
	)
	m.total.Add(ctx, 1, attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

type noopMetrics struct{}

func (noopMetrics) RecordExecution(context.Context, CallMeta, time.Duration, error) {}
