package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means a single probe is testing whether the remote
	// recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	// Default: 5
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is let
	// through.
	// Default: 60 seconds
	Cooldown time.Duration

	// CooldownMultiplier grows the cooldown after every failed probe.
	// Default: 1 (constant cooldown)
	CooldownMultiplier float64

	// MaxCooldown caps the grown cooldown.
	// Default: 10 * Cooldown
	MaxCooldown time.Duration

	// OnStateChange is called after the circuit state changes, outside the
	// breaker lock.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure in Execute.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// CircuitSnapshot is a point-in-time copy of a breaker's state.
type CircuitSnapshot struct {
	State                State         `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastFailureAt        time.Time     `json:"last_failure_at,omitzero"`
	LastSuccessAt        time.Time     `json:"last_success_at,omitzero"`
	OpenedAt             time.Time     `json:"opened_at,omitzero"`
	Cooldown             time.Duration `json:"cooldown"`
	ProbeInFlight        bool          `json:"probe_in_flight"`
	TotalCalls           int64         `json:"total_calls"`
	TotalFailures        int64         `json:"total_failures"`
	TotalSuccesses       int64         `json:"total_successes"`
	Rejected             int64         `json:"rejected"`
}

// CircuitBreaker is a per-endpoint failure detector.
//
// It only gates calls (Admit) and records outcomes against the admission.
// Retrying is the executor's job.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastSuccessAt        time.Time
	openedAt             time.Time
	cooldown             time.Duration
	probeInFlight        bool

	// generation changes on every state transition.
	generation uint64

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	rejected       int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if config.CooldownMultiplier < 1 {
		config.CooldownMultiplier = 1
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 10 * config.Cooldown
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = config.Cooldown
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config:   config,
		state:    StateClosed,
		cooldown: config.Cooldown,
	}
}

// Allow asks whether a call may proceed. It returns ErrCircuitOpen while the
// circuit is open or while a probe is already in flight.
//
// Once the cooldown has elapsed, the first caller moves the circuit to
// half-open and becomes the probe. Every nil return must be followed by
// exactly one of RecordSuccess, RecordFailure or RecordCanceled.
//
// Concurrent callers should use Admit.
func (cb *CircuitBreaker) Allow() error {
	_, err := cb.Admit()
	return err
}

// Admission is a call granted by Admit. Its outcome only moves the circuit
// while the circuit is still in the state that granted it; a late outcome
// is counted in the totals and otherwise ignored.
type Admission struct {
	cb         *CircuitBreaker
	generation uint64
}

// Success records a successful outcome for the admitted call.
func (a Admission) Success() { a.cb.recordSuccess(a.generation) }

// Failure records a failed outcome for the admitted call.
func (a Admission) Failure() { a.cb.recordFailure(a.generation) }

// Cancel releases the admitted call without an outcome.
func (a Admission) Cancel() { a.cb.recordCanceled(a.generation) }

// Admit is Allow returning the admission that the outcome must be reported
// on.
func (cb *CircuitBreaker) Admit() (Admission, error) {
	cb.mu.Lock()
	from := cb.state
	err := cb.allowLocked()
	to := cb.state
	gen := cb.generation
	cb.mu.Unlock()

	cb.notify(from, to)
	if err != nil {
		return Admission{}, err
	}
	return Admission{cb: cb, generation: gen}, nil
}

func (cb *CircuitBreaker) allowLocked() error {
	switch cb.state {
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.cooldown {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.generation++
		cb.probeInFlight = true
		return nil

	case StateHalfOpen:
		if cb.probeInFlight {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	}

	return nil
}

// anyGeneration makes an untracked outcome apply to the current state.
const anyGeneration = ^uint64(0)

// RecordSuccess records a successful call against the current state.
func (cb *CircuitBreaker) RecordSuccess() { cb.recordSuccess(anyGeneration) }

// RecordFailure records a failed call against the current state.
func (cb *CircuitBreaker) RecordFailure() { cb.recordFailure(anyGeneration) }

// RecordCanceled releases a granted call that never produced an outcome,
// such as a probe abandoned by its caller. Nothing is counted.
func (cb *CircuitBreaker) RecordCanceled() { cb.recordCanceled(anyGeneration) }

func (cb *CircuitBreaker) current(gen uint64) bool {
	return gen == anyGeneration || gen == cb.generation
}

func (cb *CircuitBreaker) recordSuccess(gen uint64) {
	cb.mu.Lock()
	from := cb.state

	cb.totalCalls++
	cb.totalSuccesses++
	cb.lastSuccessAt = cb.config.Now()

	if cb.current(gen) {
		switch cb.state {
		case StateClosed:
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses++
		case StateHalfOpen:
			// Successful probe, close the circuit
			cb.closeLocked()
		}
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) recordFailure(gen uint64) {
	cb.mu.Lock()
	from := cb.state

	now := cb.config.Now()
	cb.totalCalls++
	cb.totalFailures++
	cb.lastFailureAt = now

	if cb.current(gen) {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0

		switch cb.state {
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				cb.openLocked(now)
			}
		case StateHalfOpen:
			// Failed probe, back to open with a refreshed cooldown
			cb.probeInFlight = false
			cb.cooldown = cb.grownCooldown()
			cb.openLocked(now)
		}
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) recordCanceled(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.current(gen) {
		cb.probeInFlight = false
	}
}

// Execute runs op through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	call, err := cb.Admit()
	if err != nil {
		return err
	}

	err = op(ctx)
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		call.Cancel()
	case cb.config.IsFailure(err):
		call.Failure()
	default:
		call.Success()
	}
	return err
}

// State returns the current circuit state. It never transitions the circuit;
// an open circuit whose cooldown has elapsed reports open until the next
// Allow.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker state.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitSnapshot{
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailureAt:        cb.lastFailureAt,
		LastSuccessAt:        cb.lastSuccessAt,
		OpenedAt:             cb.openedAt,
		Cooldown:             cb.cooldown,
		ProbeInFlight:        cb.probeInFlight,
		TotalCalls:           cb.totalCalls,
		TotalFailures:        cb.totalFailures,
		TotalSuccesses:       cb.totalSuccesses,
		Rejected:             cb.rejected,
	}
}

// RetryAfter returns the remaining cooldown of an open circuit, or zero.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.cooldown - cb.config.Now().Sub(cb.openedAt)
	return max(remaining, 0)
}

// Reset returns the circuit breaker to its initial closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state

	cb.closeLocked()
	cb.lastFailureAt = time.Time{}
	cb.lastSuccessAt = time.Time{}
	cb.totalCalls = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.rejected = 0

	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.state = StateOpen
	cb.generation++
	cb.openedAt = now
	cb.consecutiveSuccesses = 0
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.generation++
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.openedAt = time.Time{}
	cb.cooldown = cb.config.Cooldown
	cb.probeInFlight = false
}

func (cb *CircuitBreaker) grownCooldown() time.Duration {
	next := time.Duration(float64(cb.cooldown) * cb.config.CooldownMultiplier)
	return min(next, cb.config.MaxCooldown)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
