package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Call kinds.
const (
	KindCall    = "call"
	KindWebhook = "webhook"
)

// CallMeta describes one unit of observed work.
type CallMeta struct {
	Kind     string // "call" for outbound API calls, "webhook" for deliveries (required)
	Name     string // endpoint key or event type (required)
	Class    string // timeout class (optional)
	EventID  string // webhook event id (optional)
	Attempts int    // attempt number (optional)
}

func (m CallMeta) kind() string {
	if m.Kind == "" {
		return KindCall
	}
	return m.Kind
}

// SpanName returns the deterministic span name for this call.
// Format: payrelay.<kind>.<name>
func (m CallMeta) SpanName() string {
	return "payrelay." + m.kind() + "." + m.Name
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("payrelay.kind", m.Kind),
		attribute.String("payrelay.name", m.Name),
	}
	if m.Class != "" {
		attrs = append(attrs, attribute.String("payrelay.timeout_class", m.Class))
	}
	if m.EventID != "" {
		attrs = append(attrs, attribute.String("payrelay.event_id", m.EventID))
	}
	if m.Attempts > 0 {
		attrs = append(attrs, attribute.Int("payrelay.attempt", m.Attempts))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with per-call span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for the call.
	StartSpan(ctx context.Context, meta CallMeta, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error, opts ...trace.SpanEndOption)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("payrelay.error", false))
	opts = append([]trace.SpanStartOption{
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(spanKind(meta)),
	}, opts...)
	return t.tracer.Start(ctx, meta.SpanName(), opts...)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error, opts ...trace.SpanEndOption) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("payrelay.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(opts...)
}

func spanKind(meta CallMeta) trace.SpanKind {
	if meta.Kind == KindCall {
		return trace.SpanKindClient
	}
	return trace.SpanKindInternal
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName(), opts...)
}

func (t *noopTracer) EndSpan(span trace.Span, err error, opts ...trace.SpanEndOption) {
	span.End(opts...)
}
