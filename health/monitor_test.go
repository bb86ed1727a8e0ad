package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jonwraymond/payrelay/resilience"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name       string
		metrics    Metrics
		open, half bool
		want       float64
	}{
		{"clean", Metrics{}, false, false, 100},
		{"open circuit", Metrics{}, true, false, 50},
		{"half-open circuit", Metrics{}, false, true, 75},
		{"open wins over half-open", Metrics{}, true, true, 50},
		{"one violation", Metrics{RateLimitViolations: 1}, false, false, 90},
		{"violations capped", Metrics{RateLimitViolations: 12}, false, false, 70},
		{"two breaker errors", Metrics{CircuitBreakerErrors: 2}, false, false, 70},
		{"breaker errors capped", Metrics{CircuitBreakerErrors: 9}, false, false, 55},
		{"failure rate", Metrics{FailureRate: 0.5}, false, false, 75},
		{"failure rate capped", Metrics{FailureRate: 1}, false, false, 60},
		{"floored at zero", Metrics{RateLimitViolations: 5, CircuitBreakerErrors: 5, FailureRate: 1}, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.metrics, tt.open, tt.half); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		score float64
		open  bool
		want  IntegrationStatus
	}{
		{100, false, IntegrationHealthy},
		{80, false, IntegrationHealthy},
		{79.9, false, IntegrationDegraded},
		{50, false, IntegrationDegraded},
		{49.9, false, IntegrationUnhealthy},
		{0, false, IntegrationUnhealthy},
		{100, true, IntegrationCircuitOpen},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.score, tt.open); got != tt.want {
			t.Errorf("StatusFor(%v, %v) = %v, want %v", tt.score, tt.open, got, tt.want)
		}
	}
}

func TestTracker_RecordAttempt(t *testing.T) {
	tracker := NewTracker()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	tracker.RecordAttempt(ctx, "POST /v1/payments", 10*time.Millisecond, nil)
	tracker.RecordAttempt(ctx, "POST /v1/payments", 30*time.Millisecond, errors.New("boom"))
	tracker.RecordAttempt(ctx, "GET /v1/payments/{id}", 20*time.Millisecond, fmt.Errorf("call: %w", context.DeadlineExceeded))
	tracker.RecordAttempt(ctx, "GET /v1/payments/{id}", 20*time.Millisecond, &resilience.HTTPStatusError{StatusCode: http.StatusGatewayTimeout})
	tracker.RecordAttempt(ctx, "GET /v1/payments/{id}", 20*time.Millisecond, &resilience.HTTPStatusError{StatusCode: http.StatusTooManyRequests})

	m := tracker.Metrics()
	if m.Requests != 5 || m.Successes != 1 || m.Failures != 4 {
		t.Errorf("requests/successes/failures = %d/%d/%d, want 5/1/4", m.Requests, m.Successes, m.Failures)
	}
	if m.Timeouts != 2 {
		t.Errorf("Timeouts = %d, want 2", m.Timeouts)
	}
	if m.RateLimitViolations != 1 {
		t.Errorf("RateLimitViolations = %d, want 1", m.RateLimitViolations)
	}
	if m.FailureRate != 0.8 {
		t.Errorf("FailureRate = %v, want 0.8", m.FailureRate)
	}
	if m.AvgLatency != 20*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 20ms", m.AvgLatency)
	}
	if !m.LastSuccessAt.Equal(now) || !m.LastFailureAt.Equal(now) {
		t.Errorf("last success/failure = %v/%v, want %v", m.LastSuccessAt, m.LastFailureAt, now)
	}

	if len(m.Endpoints) != 2 {
		t.Fatalf("len(Endpoints) = %d, want 2", len(m.Endpoints))
	}
	// Sorted by name.
	get, post := m.Endpoints[0], m.Endpoints[1]
	if get.Endpoint != "GET /v1/payments/{id}" || post.Endpoint != "POST /v1/payments" {
		t.Fatalf("Endpoints = %q, %q", get.Endpoint, post.Endpoint)
	}
	if post.Requests != 2 || post.Failures != 1 || post.LastError != "boom" {
		t.Errorf("post = %+v", post)
	}
	if post.AvgLatency != 20*time.Millisecond || post.LastLatency != 30*time.Millisecond {
		t.Errorf("post latency avg/last = %v/%v, want 20ms/30ms", post.AvgLatency, post.LastLatency)
	}
	if get.Failures != 3 {
		t.Errorf("get.Failures = %d, want 3", get.Failures)
	}
}


func TestTracker_CountsExecutorTimeouts(t *testing.T) {
	tracker := NewTracker()
	exec := resilience.NewExecutor(
		resilience.WithRecorder(tracker),
		resilience.WithRetry(resilience.NewRetryPolicy(resilience.RetryConfig{MaxAttempts: 1})),
	)
	key := resilience.NewEndpointKey("GET", "/v1/payments/{id}")

	err := exec.Execute(context.Background(), key, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, resilience.WithCallTimeout(10*time.Millisecond))
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}

	m := tracker.Metrics()
	if m.Failures != 1 {
		t.Errorf("Failures = %d, want 1", m.Failures)
	}
	if m.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", m.Timeouts)
	}
}
func TestTracker_RetriesAndRejections(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	tracker.RecordRetry(ctx, "POST /v1/payments", 1, time.Second)
	tracker.RecordRetry(ctx, "POST /v1/payments", 2, 2*time.Second)
	tracker.RecordRejection(ctx, "POST /v1/payments", resilience.KindRateLimited.String())
	tracker.RecordRejection(ctx, "POST /v1/payments", resilience.KindCircuitOpen.String())
	tracker.RecordRejection(ctx, "POST /v1/payments", "something_else")

	m := tracker.Metrics()
	if m.Retries != 2 {
		t.Errorf("Retries = %d, want 2", m.Retries)
	}
	if len(m.Endpoints) != 1 || m.Endpoints[0].Retries != 2 {
		t.Errorf("Endpoints = %+v, want one endpoint with 2 retries", m.Endpoints)
	}
	if m.RateLimitViolations != 1 {
		t.Errorf("RateLimitViolations = %d, want 1", m.RateLimitViolations)
	}
	if m.CircuitRejections != 1 {
		t.Errorf("CircuitRejections = %d, want 1", m.CircuitRejections)
	}
	if m.Requests != 0 {
		t.Errorf("Requests = %d, want 0", m.Requests)
	}
}

func TestTracker_OnStateChange(t *testing.T) {
	tracker := NewTracker()

	tracker.OnStateChange("POST /v1/payments", resilience.StateClosed, resilience.StateOpen)
	tracker.OnStateChange("POST /v1/payments", resilience.StateOpen, resilience.StateHalfOpen)
	tracker.OnStateChange("POST /v1/payments", resilience.StateHalfOpen, resilience.StateOpen)

	m := tracker.Metrics()
	if m.CircuitBreakerErrors != 2 {
		t.Errorf("CircuitBreakerErrors = %d, want 2", m.CircuitBreakerErrors)
	}
	if len(m.Transitions) != 3 {
		t.Fatalf("len(Transitions) = %d, want 3", len(m.Transitions))
	}
	if tr := m.Transitions[1]; tr.From != resilience.StateOpen || tr.To != resilience.StateHalfOpen {
		t.Errorf("Transitions[1] = %v -> %v, want open -> half-open", tr.From, tr.To)
	}

	for i := 0; i < 2*maxTransitions; i++ {
		tracker.OnStateChange(resilience.EndpointKey(fmt.Sprintf("GET /%d", i)), resilience.StateClosed, resilience.StateOpen)
	}
	m = tracker.Metrics()
	if len(m.Transitions) != maxTransitions {
		t.Fatalf("len(Transitions) = %d, want %d", len(m.Transitions), maxTransitions)
	}
	if last := m.Transitions[maxTransitions-1].Endpoint; last != fmt.Sprintf("GET /%d", 2*maxTransitions-1) {
		t.Errorf("newest transition = %q", last)
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()
	tracker.RecordAttempt(ctx, "POST /v1/payments", time.Millisecond, errors.New("boom"))
	tracker.RecordRetry(ctx, "POST /v1/payments", 1, time.Second)
	tracker.OnStateChange("POST /v1/payments", resilience.StateClosed, resilience.StateOpen)

	tracker.Reset()

	m := tracker.Metrics()
	if m.Requests != 0 || m.Failures != 0 || m.Retries != 0 || m.CircuitBreakerErrors != 0 {
		t.Errorf("Metrics after Reset = %+v", m)
	}
	if len(m.Endpoints) != 0 || len(m.Transitions) != 0 {
		t.Errorf("endpoints/transitions after Reset = %d/%d, want 0/0", len(m.Endpoints), len(m.Transitions))
	}
	if !m.LastFailureAt.IsZero() {
		t.Errorf("LastFailureAt = %v, want zero", m.LastFailureAt)
	}

	// Still usable after a reset.
	tracker.RecordAttempt(ctx, "POST /v1/payments", time.Millisecond, nil)
	if got := tracker.Metrics().Requests; got != 1 {
		t.Errorf("Requests = %d, want 1", got)
	}
}

func TestMonitor_Report(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tracker := NewTracker()
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		Now:              clock,
	}, resilience.WithStateChangeHook(tracker.OnStateChange))
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{MinInterval: -1, Now: clock})
	mon := NewMonitor(tracker, breakers, limiter)
	mon.now = clock

	limiter.Allow("POST /v1/payments")
	report := mon.Report(context.Background())
	if report.Status != IntegrationHealthy || report.Score != 100 {
		t.Errorf("report = %v/%v, want healthy/100", report.Status, report.Score)
	}
	if !report.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", report.Timestamp, now)
	}
	if len(report.RateLimits) != 1 || report.RateLimits[0].Allowed != 1 {
		t.Errorf("RateLimits = %+v", report.RateLimits)
	}
	if len(report.Recommendations) == 0 {
		t.Error("Recommendations should not be empty")
	}

	key := resilience.EndpointKey("POST /v1/payments")
	breakers.Get(key).RecordFailure()

	report = mon.Report(context.Background())
	if report.Status != IntegrationCircuitOpen {
		t.Errorf("Status = %v, want %v", report.Status, IntegrationCircuitOpen)
	}
	// 100 - 50 (open) - 15 (one breaker error)
	if report.Score != 35 {
		t.Errorf("Score = %v, want 35", report.Score)
	}
	if len(report.Circuits) != 1 || report.Circuits[0].State != resilience.StateOpen {
		t.Errorf("Circuits = %+v", report.Circuits)
	}
	if report.Recommendations[0] != "Circuit breaker open for: POST /v1/payments" {
		t.Errorf("Recommendations[0] = %q", report.Recommendations[0])
	}

	now = now.Add(time.Minute)
	if err := breakers.Get(key).Allow(); err != nil {
		t.Fatalf("probe Allow() = %v", err)
	}
	report = mon.Report(context.Background())
	// 100 - 25 (half-open) - 15
	if report.Status != IntegrationDegraded || report.Score != 60 {
		t.Errorf("report = %v/%v, want degraded/60", report.Status, report.Score)
	}

	mon.Reset()
	if got := mon.Tracker().Metrics().CircuitBreakerErrors; got != 0 {
		t.Errorf("CircuitBreakerErrors after Reset = %d, want 0", got)
	}
	if st := breakers.Get(key).State(); st != resilience.StateHalfOpen {
		t.Errorf("breaker state after monitor Reset = %v, want half-open", st)
	}
}

func TestMonitor_NilParts(t *testing.T) {
	mon := NewMonitor(nil, nil, nil)
	report := mon.Report(context.Background())
	if report.Status != IntegrationHealthy {
		t.Errorf("Status = %v, want healthy", report.Status)
	}
	if report.Circuits != nil || report.RateLimits != nil {
		t.Errorf("circuits/rate limits = %v/%v, want nil", report.Circuits, report.RateLimits)
	}
}

func TestMonitor_UnhealthyRecommendations(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		tracker.RecordAttempt(ctx, "POST /v1/payments", time.Millisecond, &resilience.HTTPStatusError{StatusCode: http.StatusTooManyRequests})
	}
	report := NewMonitor(tracker, nil, nil).Report(ctx)

	// 100 - 30 (violations capped) - 40 (failure rate capped)
	if report.Score != 30 || report.Status != IntegrationUnhealthy {
		t.Errorf("report = %v/%v, want unhealthy/30", report.Status, report.Score)
	}
	if report.Recommendations[0] != "Failure rate is 100%" {
		t.Errorf("Recommendations[0] = %q", report.Recommendations[0])
	}
	var sawRate bool
	for _, r := range report.Recommendations {
		if r == "4 rate limit violations; batch or cache requests" {
			sawRate = true
		}
	}
	if !sawRate {
		t.Errorf("Recommendations = %q, want a rate limit entry", report.Recommendations)
	}
}
