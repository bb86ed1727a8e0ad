package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/payrelay/resilience"
	"github.com/jonwraymond/payrelay/webhook"
)

func TestCircuitChecker(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		Now:              func() time.Time { return now },
	})
	checker := NewCircuitChecker(breakers)
	ctx := context.Background()

	if checker.Name() != "circuits" {
		t.Errorf("Name() = %q, want circuits", checker.Name())
	}
	if got := checker.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("empty registry Status = %v, want healthy", got)
	}

	key := resilience.EndpointKey("POST /v1/payments")
	breakers.Get(key).RecordFailure()

	result := checker.Check(ctx)
	if result.Status != StatusUnhealthy {
		t.Errorf("Status = %v, want unhealthy", result.Status)
	}
	if !errors.Is(result.Error, ErrCircuitOpen) {
		t.Errorf("Error = %v, want ErrCircuitOpen", result.Error)
	}
	open, _ := result.Details["open_endpoints"].([]string)
	if len(open) != 1 || open[0] != string(key) {
		t.Errorf("open_endpoints = %v, want [%s]", result.Details["open_endpoints"], key)
	}

	now = now.Add(time.Minute)
	if err := breakers.Get(key).Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	if got := checker.Check(ctx).Status; got != StatusDegraded {
		t.Errorf("half-open Status = %v, want degraded", got)
	}

	breakers.Get(key).RecordSuccess()
	if got := checker.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("closed Status = %v, want healthy", got)
	}
}

func TestRateLimitChecker(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		PerSecond:   10,
		PerMinute:   2,
		MinInterval: -1,
		Now:         func() time.Time { return now },
	})
	checker := NewRateLimitChecker(limiter)
	ctx := context.Background()
	key := resilience.EndpointKey("GET /v1/payments/{id}")

	limiter.Allow(key)
	if got := checker.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("Status = %v, want healthy", got)
	}

	limiter.Allow(key)
	limiter.Allow(key)
	result := checker.Check(ctx)
	if result.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", result.Status)
	}
	if v := result.Details["violations"]; v != int64(1) {
		t.Errorf("violations = %v, want 1", v)
	}

	now = now.Add(time.Minute + time.Second)
	if got := checker.Check(ctx).Status; got != StatusHealthy {
		t.Errorf("Status after window = %v, want healthy", got)
	}
}

type fakeQueue struct {
	stats webhook.Stats
	err   error
}

func (q fakeQueue) Stats(context.Context) (webhook.Stats, error) {
	return q.stats, q.err
}

func TestQueueChecker(t *testing.T) {
	tests := []struct {
		name   string
		queue  fakeQueue
		config QueueCheckerConfig
		want   Status
	}{
		{"empty", fakeQueue{}, QueueCheckerConfig{}, StatusHealthy},
		{"backlog within limit", fakeQueue{stats: webhook.Stats{Pending: 10, Delivered: 5}}, QueueCheckerConfig{MaxPending: 10}, StatusHealthy},
		{"backlog over limit", fakeQueue{stats: webhook.Stats{Pending: 11}}, QueueCheckerConfig{MaxPending: 10}, StatusDegraded},
		{"failed events", fakeQueue{stats: webhook.Stats{Failed: 1}}, QueueCheckerConfig{}, StatusDegraded},
		{"failed within limit", fakeQueue{stats: webhook.Stats{Failed: 3}}, QueueCheckerConfig{MaxFailed: 3}, StatusHealthy},
		{"store error", fakeQueue{err: errors.New("db down")}, QueueCheckerConfig{}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewQueueChecker(tt.queue, tt.config)
			if checker.Name() != "webhooks" {
				t.Errorf("Name() = %q, want webhooks", checker.Name())
			}
			if got := checker.Check(context.Background()).Status; got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueChecker_DefaultMaxPending(t *testing.T) {
	checker := NewQueueChecker(fakeQueue{stats: webhook.Stats{Pending: 1000}}, QueueCheckerConfig{})
	if got := checker.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Status = %v, want healthy", got)
	}
	checker = NewQueueChecker(fakeQueue{stats: webhook.Stats{Pending: 1001}}, QueueCheckerConfig{})
	if got := checker.Check(context.Background()).Status; got != StatusDegraded {
		t.Errorf("Status = %v, want degraded", got)
	}
}

func TestRuntimeChecker(t *testing.T) {
	checker := NewRuntimeChecker(RuntimeCheckerConfig{})
	if checker.Name() != "runtime" {
		t.Errorf("Name() = %q, want runtime", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", result.Status)
	}
	if _, ok := result.Details["goroutines"]; !ok {
		t.Error("Details should contain goroutines")
	}

	result = NewRuntimeChecker(RuntimeCheckerConfig{MaxHeapBytes: 1}).Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("tiny heap limit Status = %v, want degraded", result.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := checker.Check(ctx).Status; got != StatusUnhealthy {
		t.Errorf("cancelled Status = %v, want unhealthy", got)
	}
}
