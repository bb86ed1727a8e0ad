package resilience

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff computes exponential backoff delays with additive jitter:
//
//	delay = min(Max, Base * 2^attempt) + uniform[0, Jitter]
type Backoff struct {
	// Base is the delay for attempt 0.
	Base time.Duration

	// Max caps the exponential part of the delay.
	Max time.Duration

	// Jitter is the width of the random window added to every delay.
	Jitter time.Duration

	// Rand returns a value in [0, n). Tests may pin it.
	// Default: math/rand/v2 Int64N
	Rand func(n int64) int64
}

// Delay returns the delay before the retry with zero-based index attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.Exponential(attempt) + b.jitter()
}

// Exponential returns the capped exponential part of the delay, without
// jitter.
func (b Backoff) Exponential(attempt int) time.Duration {
	delay := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

func (b Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	n := int64(b.Jitter) + 1
	if b.Rand != nil {
		return time.Duration(b.Rand(n))
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return time.Duration(rand.Int64N(n))
}

// RetryConfig configures the retry budget.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// MaxElapsed bounds the total time spent on one logical call.
	// Default: 2 minutes
	MaxElapsed time.Duration

	// BaseDelay is the delay before the first retry.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the exponential part of the delay.
	// Default: 30s
	MaxDelay time.Duration

	// Jitter is the width of the random window added to every delay.
	// Default: 500ms. Negative disables jitter.
	Jitter time.Duration

	// Retryable decides whether an error may be retried.
	// Default: IsRetryable
	Retryable func(err error) bool

	// Rand overrides the jitter source.
	Rand func(n int64) int64
}

// RetryMetrics aggregates retry outcomes across all budgets of a policy.
type RetryMetrics struct {
	TotalRetries      int64
	SuccessfulRetries int64
	FailedRetries     int64
	TotalDelay        time.Duration
}

// RetryPolicy holds the shared retry configuration and hands out one Budget
// per logical call.
type RetryPolicy struct {
	config  RetryConfig
	backoff Backoff

	mu      sync.Mutex
	metrics RetryMetrics
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 2 * time.Minute
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Jitter == 0 {
		config.Jitter = 500 * time.Millisecond
	}
	if config.Retryable == nil {
		config.Retryable = IsRetryable
	}

	return &RetryPolicy{
		config: config,
		backoff: Backoff{
			Base:   config.BaseDelay,
			Max:    config.MaxDelay,
			Jitter: max(config.Jitter, 0),
			Rand:   config.Rand,
		},
	}
}

// NewBudget starts a budget for one logical call. Budgets are not shared.
func (p *RetryPolicy) NewBudget() *Budget {
	return &Budget{policy: p}
}

// Backoff returns the policy's delay formula.
func (p *RetryPolicy) Backoff() Backoff {
	return p.backoff
}

// Retryable reports whether err may be retried under this policy.
func (p *RetryPolicy) Retryable(err error) bool {
	return err != nil && p.config.Retryable(err)
}

// Metrics returns aggregate retry metrics.
func (p *RetryPolicy) Metrics() RetryMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// ResetMetrics clears aggregate retry metrics.
func (p *RetryPolicy) ResetMetrics() {
	p.mu.Lock()
	p.metrics = RetryMetrics{}
	p.mu.Unlock()
}

// Config returns the retry configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

func (p *RetryPolicy) record(delay time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.TotalRetries++
	p.metrics.TotalDelay += delay
	if success {
		p.metrics.SuccessfulRetries++
	} else {
		p.metrics.FailedRetries++
	}
}

// Budget bounds the attempts and elapsed time of a single logical call.
type Budget struct {
	policy *RetryPolicy

	attempts   int
	totalDelay time.Duration
}

// CanRetry reports whether another attempt fits the budget. attempt is the
// number of attempts already made.
func (b *Budget) CanRetry(attempt int, elapsed time.Duration) bool {
	if attempt >= b.policy.config.MaxAttempts {
		return false
	}
	return elapsed < b.policy.config.MaxElapsed
}

// DelayFor returns the backoff delay before the retry with zero-based index
// attempt.
func (b *Budget) DelayFor(attempt int) time.Duration {
	return b.policy.backoff.Delay(attempt)
}

// RecordAttempt records a retry that waited delay and whether it succeeded.
func (b *Budget) RecordAttempt(delay time.Duration, success bool) {
	b.attempts++
	b.totalDelay += delay
	b.policy.record(delay, success)
}

// Retries returns the number of retries recorded on this budget.
func (b *Budget) Retries() int {
	return b.attempts
}

// TotalDelay returns the time this budget spent in backoff.
func (b *Budget) TotalDelay() time.Duration {
	return b.totalDelay
}

// MaxElapsed returns the elapsed-time bound.
func (b *Budget) MaxElapsed() time.Duration {
	return b.policy.config.MaxElapsed
}
