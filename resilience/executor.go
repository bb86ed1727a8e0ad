package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Recorder receives executor outcomes. Implementations must be safe for
// concurrent use and must return quickly.
type Recorder interface {
	// RecordAttempt is called after every attempt that reached the remote.
	RecordAttempt(ctx context.Context, endpoint string, duration time.Duration, err error)

	// RecordRetry is called before sleeping for a retry. attempt is the
	// one-based number of the attempt about to be made.
	RecordRetry(ctx context.Context, endpoint string, attempt int, delay time.Duration)

	// RecordRejection is called when a call is refused without reaching the
	// remote. reason is a Kind name.
	RecordRejection(ctx context.Context, endpoint string, reason string)
}

// MultiRecorder fans out to several recorders.
type MultiRecorder []Recorder

// RecordAttempt implements Recorder.
func (m MultiRecorder) RecordAttempt(ctx context.Context, endpoint string, duration time.Duration, err error) {
	for _, r := range m {
		r.RecordAttempt(ctx, endpoint, duration, err)
	}
}

// RecordRetry implements Recorder.
func (m MultiRecorder) RecordRetry(ctx context.Context, endpoint string, attempt int, delay time.Duration) {
	for _, r := range m {
		r.RecordRetry(ctx, endpoint, attempt, delay)
	}
}

// RecordRejection implements Recorder.
func (m MultiRecorder) RecordRejection(ctx context.Context, endpoint string, reason string) {
	for _, r := range m {
		r.RecordRejection(ctx, endpoint, reason)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, string, time.Duration, error) {}
func (nopRecorder) RecordRetry(context.Context, string, int, time.Duration)     {}
func (nopRecorder) RecordRejection(context.Context, string, string)             {}

// Executor composes the rate limiter, circuit breakers, timeout classifier
// and retry policy around one outbound call.
//
// The execution order is:
// 1. Rate Limiter - rejects calls over the endpoint's windows
// 2. Bulkhead (if configured) - caps concurrent calls
// 3. Circuit Breaker - rejects calls to an unhealthy endpoint
// 4. Timeout - bounds every attempt by the endpoint's ceiling
// 5. Retry - re-enters the breaker gate after each backoff sleep
type Executor struct {
	limiter    *RateLimiter
	breakers   *BreakerRegistry
	classifier *TimeoutClassifier
	retry      *RetryPolicy
	bulkhead   *Bulkhead
	recorder   Recorder
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor. Components that are not
// supplied get their default configuration.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}

	if e.limiter == nil {
		e.limiter = NewRateLimiter(RateLimiterConfig{})
	}
	if e.breakers == nil {
		e.breakers = NewBreakerRegistry(CircuitBreakerConfig{})
	}
	if e.classifier == nil {
		e.classifier = NewTimeoutClassifier(ClassifierConfig{})
	}
	if e.retry == nil {
		e.retry = NewRetryPolicy(RetryConfig{})
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// WithRateLimiter sets the rate limiter.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.limiter = rl
	}
}

// WithBreakers sets the circuit breaker registry.
func WithBreakers(r *BreakerRegistry) ExecutorOption {
	return func(e *Executor) {
		e.breakers = r
	}
}

// WithClassifier sets the timeout classifier.
func WithClassifier(c *TimeoutClassifier) ExecutorOption {
	return func(e *Executor) {
		e.classifier = c
	}
}

// WithRetry sets the retry policy.
func WithRetry(p *RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.retry = p
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) {
		e.recorder = r
	}
}

// WithClock sets the clock used for elapsed-time accounting.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// CallOption adjusts a single Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	class   *TimeoutClass
	timeout time.Duration
}

// WithTimeoutClass overrides the classifier for one call.
func WithTimeoutClass(class TimeoutClass) CallOption {
	return func(o *callOptions) {
		o.class = &class
	}
}

// WithCallTimeout sets an explicit ceiling for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Execute runs op against the endpoint identified by key.
//
// Every failure is returned as a *ResilienceError, except cancellation of
// ctx, which is returned as the context error.
func (e *Executor) Execute(ctx context.Context, key EndpointKey, op func(context.Context) error, opts ...CallOption) error {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	timeout := e.timeoutFor(key, co)
	endpoint := string(key)

	if d := e.limiter.Allow(key); !d.Allowed {
		e.recorder.RecordRejection(ctx, endpoint, KindRateLimited.String())
		return &ResilienceError{Kind: KindRateLimited, Endpoint: key, RetryAfter: d.RetryAfter}
	}

	if e.bulkhead != nil {
		if err := e.bulkhead.Acquire(ctx); err != nil {
			if !errors.Is(err, ErrBulkheadFull) {
				return err
			}
			e.recorder.RecordRejection(ctx, endpoint, KindRateLimited.String())
			return &ResilienceError{Kind: KindRateLimited, Endpoint: key, Cause: err}
		}
		defer e.bulkhead.Release()
	}

	breaker := e.breakers.Get(key)
	budget := e.retry.NewBudget()
	start := e.now()

	var (
		lastErr   error
		lastDelay time.Duration
	)
	for attempt := 0; ; attempt++ {
		call, err := breaker.Admit()
		if err != nil {
			e.recorder.RecordRejection(ctx, endpoint, KindCircuitOpen.String())
			return &ResilienceError{
				Kind:       KindCircuitOpen,
				Endpoint:   key,
				Cause:      lastErr,
				Attempts:   attempt,
				RetryAfter: breaker.RetryAfter(),
			}
		}

		began := e.now()
		err = WithTimeout(ctx, timeout, op)
		e.recorder.RecordAttempt(ctx, endpoint, e.now().Sub(began), err)
		if attempt > 0 {
			budget.RecordAttempt(lastDelay, err == nil)
		}

		if err == nil {
			call.Success()
			return nil
		}

		if ctx.Err() != nil {
			call.Cancel()
			return ctx.Err()
		}

		call.Failure()
		lastErr = err

		if !e.retry.Retryable(err) {
			return &ResilienceError{Kind: KindNonRetryable, Endpoint: key, Cause: err, Attempts: attempt + 1}
		}

		delay := budget.DelayFor(attempt)
		elapsed := e.now().Sub(start)
		if !budget.CanRetry(attempt+1, elapsed) || elapsed+delay >= budget.MaxElapsed() {
			return &ResilienceError{Kind: KindRetriesExhausted, Endpoint: key, Cause: err, Attempts: attempt + 1}
		}

		e.recorder.RecordRetry(ctx, endpoint, attempt+2, delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		lastDelay = delay
	}
}

// Do runs op through e and returns its result.
func Do[T any](ctx context.Context, e *Executor, key EndpointKey, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)
	err := e.Execute(ctx, key, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		// a timed-out attempt must not overwrite a later result
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result = v
		return nil
	}, opts...)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// sleep is the executor's only suspension point.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) timeoutFor(key EndpointKey, co callOptions) time.Duration {
	if co.timeout > 0 {
		return co.timeout
	}
	if co.class != nil {
		return e.classifier.Ceiling(*co.class)
	}
	return e.classifier.TimeoutFor(key)
}

// RateLimiter returns the executor's rate limiter.
func (e *Executor) RateLimiter() *RateLimiter {
	return e.limiter
}

// Breakers returns the executor's circuit breaker registry.
func (e *Executor) Breakers() *BreakerRegistry {
	return e.breakers
}

// Classifier returns the executor's timeout classifier.
func (e *Executor) Classifier() *TimeoutClassifier {
	return e.classifier
}

// RetryPolicy returns the executor's retry policy.
func (e *Executor) RetryPolicy() *RetryPolicy {
	return e.retry
}

// Bulkhead returns the executor's bulkhead, or nil.
func (e *Executor) Bulkhead() *Bulkhead {
	return e.bulkhead
}
