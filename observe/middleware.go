package observe

import (
	"context"
	"time"
)

// ExecuteFunc is a unit of work run under a Middleware, typically one
// webhook handler invocation.
type ExecuteFunc func(ctx context.Context, meta CallMeta) error

// Middleware runs an ExecuteFunc inside a span, records its duration and
// outcome, and logs the result. A zero Middleware is not usable; build one
// with NewMiddleware or MiddlewareFromObserver.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware combines the given components. Any nil component is
// replaced by a no-op.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	mw := &Middleware{tracer: tracer, metrics: metrics, logger: logger}
	if mw.tracer == nil {
		mw.tracer = newNoopTracer()
	}
	if mw.metrics == nil {
		mw.metrics = noopMetrics{}
	}
	if mw.logger == nil {
		mw.logger = NopLogger()
	}
	return mw
}

// NopMiddleware returns a Middleware that calls straight through.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver builds a Middleware on the observer's tracer,
// meter and logger.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	m, err := newExecMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), m, obs.Logger()), nil
}

// Wrap returns fn decorated with tracing, metrics and logging. The error
// from fn is returned unchanged.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta CallMeta) error {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()
		err := fn(ctx, meta)
		elapsed := time.Since(start)

		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, meta, elapsed, err)
		m.log(ctx, meta, elapsed, err)
		return err
	}
}

func (m *Middleware) log(ctx context.Context, meta CallMeta, elapsed time.Duration, err error) {
	took := F("duration_ms", float64(elapsed)/float64(time.Millisecond))
	l := m.logger.WithCall(meta)
	if err == nil {
		l.Debug(ctx, "execution completed", took)
		return
	}
	l.Warn(ctx, "execution failed", took, F("error", err.Error()))
}
