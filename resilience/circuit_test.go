package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBreaker(clock *fakeClock, threshold int, cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		Now:              clock.Now,
	})
}

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.Cooldown != 60*time.Second {
		t.Errorf("Cooldown = %v, want 60s", cb.config.Cooldown)
	}
	if cb.config.CooldownMultiplier != 1 {
		t.Errorf("CooldownMultiplier = %v, want 1", cb.config.CooldownMultiplier)
	}
	if cb.config.MaxCooldown != 10*time.Minute {
		t.Errorf("MaxCooldown = %v, want 10m", cb.config.MaxCooldown)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 3, time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() = %v", err)
		}
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.RecordFailure()

	snap := cb.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("After 3 failures, state = %v, want open", snap.State)
	}
	if !snap.OpenedAt.Equal(clock.Now()) {
		t.Errorf("OpenedAt = %v, want %v", snap.OpenedAt, clock.Now())
	}
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", snap.ConsecutiveFailures)
	}

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed (failures were not consecutive)", cb.State())
	}
	if got := cb.Snapshot().ConsecutiveFailures; got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
}

func TestCircuitBreaker_SingleProbeAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Second)

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	clock.Advance(999 * time.Millisecond)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before cooldown = %v, want ErrCircuitOpen", err)
	}
	if cb.State() != StateOpen {
		t.Errorf("state before cooldown = %v, want open", cb.State())
	}

	clock.Advance(time.Millisecond)
	if cb.State() != StateOpen {
		t.Errorf("State() must not transition on read, got %v", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v, want probe", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after probe granted = %v, want half-open", cb.State())
	}

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during probe = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.RecordSuccess()

	snap := cb.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("state = %v, want closed", snap.State)
	}
	if snap.ConsecutiveFailures != 0 || snap.ConsecutiveSuccesses != 0 {
		t.Errorf("counters = %d/%d, want 0/0", snap.ConsecutiveFailures, snap.ConsecutiveSuccesses)
	}
	if !snap.OpenedAt.IsZero() {
		t.Errorf("OpenedAt = %v, want zero", snap.OpenedAt)
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after close = %v", err)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Second)

	cb.RecordFailure()
	firstOpened := cb.Snapshot().OpenedAt
	clock.Advance(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.RecordFailure()

	snap := cb.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("state = %v, want open", snap.State)
	}
	if !snap.OpenedAt.After(firstOpened) {
		t.Errorf("OpenedAt = %v, want refreshed after %v", snap.OpenedAt, firstOpened)
	}
	if snap.ProbeInFlight {
		t.Error("ProbeInFlight = true after probe failure")
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() right after reopen = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_CooldownGrowth(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   1,
		Cooldown:           time.Second,
		CooldownMultiplier: 2,
		MaxCooldown:        3 * time.Second,
		Now:                clock.Now,
	})

	cb.RecordFailure()
	for _, want := range []time.Duration{2 * time.Second, 3 * time.Second, 3 * time.Second} {
		clock.Advance(cb.Snapshot().Cooldown)
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() = %v", err)
		}
		cb.RecordFailure()
		if got := cb.Snapshot().Cooldown; got != want {
			t.Errorf("Cooldown = %v, want %v", got, want)
		}
	}

	clock.Advance(3 * time.Second)
	_ = cb.Allow()
	cb.RecordSuccess()
	if got := cb.Snapshot().Cooldown; got != time.Second {
		t.Errorf("Cooldown after close = %v, want 1s", got)
	}
}

func TestCircuitBreaker_RecordCanceledReleasesProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Second)

	cb.RecordFailure()
	clock.Advance(time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.RecordCanceled()

	if cb.State() != StateHalfOpen {
		t.Errorf("state = %v, want half-open", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() after released probe = %v, want new probe", err)
	}
}

func TestCircuitBreaker_LateOutcomeDoesNotSettleHalfOpen(t *testing.T) {
	tests := []struct {
		name string
		late func(Admission)
	}{
		{name: "success", late: Admission.Success},
		{name: "failure", late: Admission.Failure},
		{name: "cancel", late: Admission.Cancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cb := newTestBreaker(clock, 5, time.Second)

			slow, err := cb.Admit()
			if err != nil {
				t.Fatalf("Admit() while closed = %v", err)
			}
			for range 5 {
				call, err := cb.Admit()
				if err != nil {
					t.Fatalf("Admit() = %v", err)
				}
				call.Failure()
			}
			if cb.State() != StateOpen {
				t.Fatalf("state = %v, want open", cb.State())
			}

			clock.Advance(time.Second)
			trial, err := cb.Admit()
			if err != nil {
				t.Fatalf("Admit() after cooldown = %v, want trial call", err)
			}

			tt.late(slow)
			if cb.State() != StateHalfOpen {
				t.Errorf("state after late %s = %v, want half-open", tt.name, cb.State())
			}
			if _, err := cb.Admit(); !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("Admit() while trial in flight = %v, want ErrCircuitOpen", err)
			}

			trial.Failure()
			if cb.State() != StateOpen {
				t.Errorf("state after failed trial = %v, want open", cb.State())
			}
		})
	}
}

func TestCircuitBreaker_LateOutcomeStillCounted(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Second)

	slow, err := cb.Admit()
	if err != nil {
		t.Fatalf("Admit() = %v", err)
	}
	cb.RecordFailure()
	slow.Success()

	snap := cb.Snapshot()
	if snap.State != StateOpen {
		t.Errorf("State = %v, want open", snap.State)
	}
	if snap.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", snap.TotalSuccesses)
	}
	if snap.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", snap.TotalCalls)
	}
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", snap.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.RecordFailure()
	clock.Advance(time.Second)
	_ = cb.Allow()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 2, time.Minute)
	testErr := errors.New("test error")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return testErr
		}); err != testErr {
			t.Errorf("Execute() error = %v, want %v", err, testErr)
		}
	}

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Minute)

	cb.RecordFailure()
	cb.Reset()

	snap := cb.Snapshot()
	if snap.State != StateClosed || snap.TotalCalls != 0 || snap.ConsecutiveFailures != 0 {
		t.Errorf("Snapshot after Reset = %+v", snap)
	}
}

func TestCircuitBreaker_ConcurrentProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, time.Second)
	cb.RecordFailure()
	clock.Advance(time.Second)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Allow() == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 1 {
		t.Errorf("probes granted = %d, want 1", granted.Load())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
