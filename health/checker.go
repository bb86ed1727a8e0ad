package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	// ErrCheckFailed wraps the cause of a failed probe.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout is reported when a check outlives the aggregator deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned for an unregistered check name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrCircuitOpen is reported while an outbound circuit is open.
	ErrCircuitOpen = errors.New("health: circuit open")
)

// Status is the health of one component. Larger values are worse, so the
// overall status of a set of results is their maximum.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{
	StatusHealthy:   "healthy",
	StatusDegraded:  "degraded",
	StatusUnhealthy: "unhealthy",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusUnhealthy, fmt.Errorf("health: unknown status %q", name)
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Worst returns the most severe of statuses, or StatusHealthy for none.
func Worst(statuses ...Status) Status {
	w := StatusHealthy
	for _, s := range statuses {
		w = max(w, s)
	}
	return w
}

// Result is the outcome of one check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time

	// Error is set for unhealthy results.
	Error error
}

func newResult(s Status, msg string, err error) Result {
	return Result{Status: s, Message: msg, Error: err, Timestamp: time.Now()}
}

// Healthy reports a component working normally.
func Healthy(message string) Result { return newResult(StatusHealthy, message, nil) }

// Degraded reports a component that still serves but needs attention, such
// as a probing circuit or a growing webhook backlog.
func Degraded(message string) Result { return newResult(StatusDegraded, message, nil) }

// Unhealthy reports a component that cannot serve.
func Unhealthy(message string, err error) Result {
	return newResult(StatusUnhealthy, message, err)
}

// Serving reports whether the component can still take traffic.
func (r Result) Serving() bool {
	return r.Status != StatusUnhealthy
}

// WithDetails merges details into the result's details.
func (r Result) WithDetails(details map[string]any) Result {
	if len(details) == 0 {
		return r
	}
	merged := make(map[string]any, len(r.Details)+len(details))
	maps.Copy(merged, r.Details)
	maps.Copy(merged, details)
	r.Details = merged
	return r
}

// WithDetail sets one detail key.
func (r Result) WithDetail(key string, value any) Result {
	return r.WithDetails(map[string]any{key: value})
}

// WithDuration sets the duration on a result.
func (r Result) WithDuration(d time.Duration) Result {
	r.Duration = d
	return r
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }

// NewCheckerFunc wraps fn as a Checker called name.
func NewCheckerFunc(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

// NewPingChecker reports unhealthy whenever ping fails. It suits the webhook
// store handle and downstream services with a cheap probe.
func NewPingChecker(name string, ping func(context.Context) error) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return Unhealthy(name+" unreachable", fmt.Errorf("%w: %w", ErrCheckFailed, err)).
				WithDetail("latency_ms", time.Since(start).Milliseconds())
		}
		return Healthy(name+" reachable").WithDetail("latency_ms", time.Since(start).Milliseconds())
	})
}
