package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrRateLimited is returned when the rate limiter rejects a call.
	ErrRateLimited = errors.New("resilience: rate limited")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRetriesExhausted is returned when the retry budget is spent.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")

	// ErrNonRetryable is returned when a call fails with a terminal error.
	ErrNonRetryable = errors.New("resilience: non-retryable error")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an attempt exceeds its timeout ceiling.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrConnection marks a transport-level connection failure raised by a
	// custom transport.
	ErrConnection = errors.New("resilience: connection failure")
)

// Kind classifies a ResilienceError.
type Kind int

const (
	// KindRateLimited means the call was rejected before reaching the remote.
	KindRateLimited Kind = iota + 1
	// KindCircuitOpen means the remote is presumed unhealthy.
	KindCircuitOpen
	// KindRetriesExhausted means transient errors outlasted the retry budget.
	KindRetriesExhausted
	// KindNonRetryable means the call failed with a terminal error.
	KindNonRetryable
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindCircuitOpen:
		return "circuit_open"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindRetriesExhausted:
		return ErrRetriesExhausted
	case KindNonRetryable:
		return ErrNonRetryable
	default:
		return nil
	}
}

// ResilienceError is the typed error returned by Executor.Execute.
//
// errors.Is matches it against the sentinel of its Kind, and errors.As or
// errors.Is can reach the underlying Cause through Unwrap.
type ResilienceError struct {
	Kind     Kind
	Endpoint EndpointKey

	// Cause is the last underlying error, if any.
	Cause error

	// RetryAfter is the suggested wait for KindRateLimited.
	RetryAfter time.Duration

	// Attempts is the number of attempts made.
	Attempts int
}

// Error implements error.
func (e *ResilienceError) Error() string {
	msg := fmt.Sprintf("resilience: %s: %s", e.Endpoint, e.Kind)
	switch {
	case e.Kind == KindRateLimited && e.RetryAfter > 0:
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	case e.Attempts > 0 && e.Cause != nil:
		msg += fmt.Sprintf(" after %d attempt(s): %v", e.Attempts, e.Cause)
	case e.Cause != nil:
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ResilienceError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's kind.
func (e *ResilienceError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of err, or 0 when err is not a ResilienceError.
func KindOf(err error) Kind {
	var re *ResilienceError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// UserMessage maps an executor error to a message fit for end users. It never
// exposes internal state names.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindRateLimited:
		return "Too many requests. Please try again shortly."
	case KindCircuitOpen, KindRetriesExhausted:
		return "Service temporarily unavailable. Please try again later."
	case KindNonRetryable:
		return "The request could not be completed."
	}
	if err == nil {
		return ""
	}
	return "An unexpected error occurred."
}
