package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CallRecorder turns executor outcomes into metrics, spans and log lines.
// It satisfies resilience.Recorder.
type CallRecorder struct {
	tracer Tracer
	logger Logger
	now    func() time.Time

	attempts   metric.Int64Counter
	errors     metric.Int64Counter
	rejections metric.Int64Counter
	retries    metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewCallRecorder creates a recorder publishing through obs.
func NewCallRecorder(obs Observer) (*CallRecorder, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	meter := obs.Meter()
	r := &CallRecorder{
		tracer: NewTracer(obs.Tracer()),
		logger: obs.Logger().With(Field{Key: "component", Value: "executor"}),
		now:    time.Now,
	}

	var err error
	if r.attempts, err = meter.Int64Counter("payrelay.call.attempts",
		metric.WithDescription("Outbound call attempts that reached the remote"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if r.errors, err = meter.Int64Counter("payrelay.call.errors",
		metric.WithDescription("Outbound call attempts that failed"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}
	if r.rejections, err = meter.Int64Counter("payrelay.call.rejections",
		metric.WithDescription("Calls refused without reaching the remote"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if r.retries, err = meter.Int64Counter("payrelay.call.retries",
		metric.WithDescription("Retries scheduled after a failed attempt"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}
	if r.duration, err = meter.Float64Histogram("payrelay.call.duration_ms",
		metric.WithDescription("Outbound attempt duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordAttempt records one attempt. The span is back-dated to cover the
// attempt's duration.
func (r *CallRecorder) RecordAttempt(ctx context.Context, endpoint string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("endpoint", endpoint))
	r.attempts.Add(ctx, 1, opt)
	if err != nil {
		r.errors.Add(ctx, 1, opt)
	}
	r.duration.Record(ctx, float64(duration.Milliseconds()), opt)

	end := r.now()
	meta := CallMeta{Kind: KindCall, Name: endpoint}
	_, span := r.tracer.StartSpan(ctx, meta, trace.WithTimestamp(end.Add(-duration)))
	r.tracer.EndSpan(span, err, trace.WithTimestamp(end))

	if err != nil {
		r.logger.Debug(ctx, "attempt failed",
			Field{Key: "endpoint", Value: endpoint},
			Field{Key: "duration_ms", Value: duration.Milliseconds()},
			Field{Key: "error", Value: err},
		)
	}
}

// RecordRetry records a scheduled retry.
func (r *CallRecorder) RecordRetry(ctx context.Context, endpoint string, attempt int, delay time.Duration) {
	r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
	r.logger.Info(ctx, "retrying call",
		Field{Key: "endpoint", Value: endpoint},
		Field{Key: "attempt", Value: attempt},
		Field{Key: "delay_ms", Value: delay.Milliseconds()},
	)
}

// RecordRejection records a call refused by the limiter or a breaker.
func (r *CallRecorder) RecordRejection(ctx context.Context, endpoint string, reason string) {
	r.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
	r.logger.Warn(ctx, "call rejected",
		Field{Key: "endpoint", Value: endpoint},
		Field{Key: "reason", Value: reason},
	)
}

// Delivery outcomes reported to DeliveryRecorder.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

// DeliveryRecorder counts webhook delivery outcomes. It satisfies
// webhook.Recorder.
type DeliveryRecorder struct {
	deliveries metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewDeliveryRecorder creates a recorder on meter.
func NewDeliveryRecorder(meter metric.Meter) (*DeliveryRecorder, error) {
	deliveries, err := meter.Int64Counter("payrelay.webhook.deliveries",
		metric.WithDescription("Webhook delivery attempts by outcome"),
		metric.WithUnit("{delivery}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("payrelay.webhook.delivery_ms",
		metric.WithDescription("Webhook handler duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &DeliveryRecorder{deliveries: deliveries, duration: duration}, nil
}

// RecordDelivery records one handler run.
func (r *DeliveryRecorder) RecordDelivery(ctx context.Context, eventType string, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
	r.deliveries.Add(ctx, 1, opt)
	r.duration.Record(ctx, float64(duration.Milliseconds()), opt)
}
