package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonwraymond/payrelay/resilience"
)

// maxTransitions bounds the circuit transition history kept by a Tracker.
const maxTransitions = 20

// EndpointMetrics summarises calls to one endpoint.
type EndpointMetrics struct {
	Endpoint      string        `json:"endpoint"`
	Requests      int64         `json:"requests"`
	Failures      int64         `json:"failures"`
	Retries       int64         `json:"retries"`
	AvgLatency    time.Duration `json:"avg_latency"`
	LastLatency   time.Duration `json:"last_latency"`
	LastError     string        `json:"last_error,omitempty"`
	LastRequestAt time.Time     `json:"last_request_at,omitzero"`
}

// Transition records one circuit state change.
type Transition struct {
	Endpoint string           `json:"endpoint"`
	From     resilience.State `json:"from"`
	To       resilience.State `json:"to"`
	At       time.Time        `json:"at"`
}

// Metrics is a point-in-time view of a Tracker.
type Metrics struct {
	Requests             int64             `json:"requests"`
	Successes            int64             `json:"successes"`
	Failures             int64             `json:"failures"`
	Retries              int64             `json:"retries"`
	Timeouts             int64             `json:"timeouts"`
	RateLimitViolations  int64             `json:"rate_limit_violations"`
	CircuitBreakerErrors int64             `json:"circuit_breaker_errors"`
	CircuitRejections    int64             `json:"circuit_rejections"`
	FailureRate          float64           `json:"failure_rate"`
	AvgLatency           time.Duration     `json:"avg_latency"`
	LastSuccessAt        time.Time         `json:"last_success_at,omitzero"`
	LastFailureAt        time.Time         `json:"last_failure_at,omitzero"`
	Endpoints            []EndpointMetrics `json:"endpoints,omitempty"`
	Transitions          []Transition      `json:"transitions,omitempty"`
}

type endpointCounters struct {
	requests, failures, retries int64
	totalLatency, lastLatency   time.Duration
	lastError                   string
	lastRequestAt               time.Time
}

// Tracker counts call outcomes. It implements resilience.Recorder and its
// OnStateChange method fits resilience.WithStateChangeHook.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	requests, successes, failures, retries int64
	timeouts, rateLimitViolations          int64
	circuitErrors, circuitRejections       int64
	totalLatency                           time.Duration
	lastSuccessAt, lastFailureAt           time.Time

	endpoints   map[string]*endpointCounters
	transitions []Transition
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:       time.Now,
		endpoints: make(map[string]*endpointCounters),
	}
}

// RecordAttempt implements resilience.Recorder.
func (t *Tracker) RecordAttempt(_ context.Context, endpoint string, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	ep := t.endpoint(endpoint)
	ep.requests++
	ep.totalLatency += duration
	ep.lastLatency = duration
	ep.lastRequestAt = now

	t.requests++
	t.totalLatency += duration
	if err == nil {
		t.successes++
		t.lastSuccessAt = now
		return
	}

	t.failures++
	t.lastFailureAt = now
	ep.failures++
	ep.lastError = err.Error()

	var statusErr *resilience.HTTPStatusError
	switch {
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		t.timeouts++
	case errors.As(err, &statusErr):
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			t.timeouts++
		case http.StatusTooManyRequests:
			t.rateLimitViolations++
		}
	}
}

// RecordRetry implements resilience.Recorder.
func (t *Tracker) RecordRetry(_ context.Context, endpoint string, _ int, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	t.endpoint(endpoint).retries++
}

// RecordRejection implements resilience.Recorder.
func (t *Tracker) RecordRejection(_ context.Context, _ string, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch reason {
	case resilience.KindRateLimited.String():
		t.rateLimitViolations++
	case resilience.KindCircuitOpen.String():
		t.circuitRejections++
	}
}

// OnStateChange records a circuit transition. Every transition into Open
// counts as a circuit breaker error.
func (t *Tracker) OnStateChange(key resilience.EndpointKey, from, to resilience.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if to == resilience.StateOpen {
		t.circuitErrors++
	}
	t.transitions = append(t.transitions, Transition{Endpoint: string(key), From: from, To: to, At: t.now()})
	if len(t.transitions) > maxTransitions {
		t.transitions = slices.Delete(t.transitions, 0, len(t.transitions)-maxTransitions)
	}
}

func (t *Tracker) endpoint(name string) *endpointCounters {
	ep, ok := t.endpoints[name]
	if !ok {
		ep = &endpointCounters{}
		t.endpoints[name] = ep
	}
	return ep
}

// Metrics returns a snapshot of the counters.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		Requests:             t.requests,
		Successes:            t.successes,
		Failures:             t.failures,
		Retries:              t.retries,
		Timeouts:             t.timeouts,
		RateLimitViolations:  t.rateLimitViolations,
		CircuitBreakerErrors: t.circuitErrors,
		CircuitRejections:    t.circuitRejections,
		LastSuccessAt:        t.lastSuccessAt,
		LastFailureAt:        t.lastFailureAt,
		Transitions:          slices.Clone(t.transitions),
	}
	if t.requests > 0 {
		m.FailureRate = float64(t.failures) / float64(t.requests)
		m.AvgLatency = t.totalLatency / time.Duration(t.requests)
	}

	m.Endpoints = make([]EndpointMetrics, 0, len(t.endpoints))
	for name, ep := range t.endpoints {
		em := EndpointMetrics{
			Endpoint:      name,
			Requests:      ep.requests,
			Failures:      ep.failures,
			Retries:       ep.retries,
			LastLatency:   ep.lastLatency,
			LastError:     ep.lastError,
			LastRequestAt: ep.lastRequestAt,
		}
		if ep.requests > 0 {
			em.AvgLatency = ep.totalLatency / time.Duration(ep.requests)
		}
		m.Endpoints = append(m.Endpoints, em)
	}
	slices.SortFunc(m.Endpoints, func(a, b EndpointMetrics) int { return strings.Compare(a.Endpoint, b.Endpoint) })
	return m
}

// Reset clears every counter.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests, t.successes, t.failures, t.retries = 0, 0, 0, 0
	t.timeouts, t.rateLimitViolations = 0, 0
	t.circuitErrors, t.circuitRejections = 0, 0
	t.totalLatency = 0
	t.lastSuccessAt, t.lastFailureAt = time.Time{}, time.Time{}
	t.endpoints = make(map[string]*endpointCounters)
	t.transitions = nil
}

// IntegrationStatus is the overall verdict of a Report.
type IntegrationStatus string

const (
	IntegrationHealthy     IntegrationStatus = "healthy"
	IntegrationDegraded    IntegrationStatus = "degraded"
	IntegrationUnhealthy   IntegrationStatus = "unhealthy"
	IntegrationCircuitOpen IntegrationStatus = "circuit_open"
)

// Score computes the 0..100 health score.
func Score(m Metrics, anyOpen, anyHalfOpen bool) float64 {
	score := 100.0
	switch {
	case anyOpen:
		score -= 50
	case anyHalfOpen:
		score -= 25
	}
	score -= min(10*float64(m.RateLimitViolations), 30)
	score -= min(15*float64(m.CircuitBreakerErrors), 45)
	score -= min(m.FailureRate*50, 40)
	return max(score, 0)
}

// StatusFor maps a score to a status. Any open circuit overrides the score.
func StatusFor(score float64, anyOpen bool) IntegrationStatus {
	switch {
	case anyOpen:
		return IntegrationCircuitOpen
	case score >= 80:
		return IntegrationHealthy
	case score >= 50:
		return IntegrationDegraded
	default:
		return IntegrationUnhealthy
	}
}

// Report is a point-in-time projection of integration health.
type Report struct {
	Timestamp       time.Time                     `json:"timestamp"`
	Status          IntegrationStatus             `json:"status"`
	Score           float64                       `json:"score"`
	Metrics         Metrics                       `json:"metrics"`
	Circuits        []resilience.EndpointSnapshot `json:"circuits"`
	RateLimits      []resilience.RateStats        `json:"rate_limits"`
	Recommendations []string                      `json:"recommendations"`
}

// Monitor combines a Tracker with live circuit and rate limiter state.
type Monitor struct {
	tracker  *Tracker
	breakers *resilience.BreakerRegistry
	limiter  *resilience.RateLimiter
	now      func() time.Time
}

// NewMonitor creates a monitor. breakers and limiter may be nil.
func NewMonitor(tracker *Tracker, breakers *resilience.BreakerRegistry, limiter *resilience.RateLimiter) *Monitor {
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Monitor{
		tracker:  tracker,
		breakers: breakers,
		limiter:  limiter,
		now:      time.Now,
	}
}

// Tracker returns the monitor's tracker.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// Report builds the current health report.
func (m *Monitor) Report(_ context.Context) Report {
	metrics := m.tracker.Metrics()

	var (
		circuits []resilience.EndpointSnapshot
		open     []string
		halfOpen []string
	)
	if m.breakers != nil {
		circuits = m.breakers.Snapshots()
		for _, c := range circuits {
			switch c.State {
			case resilience.StateOpen:
				open = append(open, string(c.Endpoint))
			case resilience.StateHalfOpen:
				halfOpen = append(halfOpen, string(c.Endpoint))
			}
		}
	}
	var rates []resilience.RateStats
	if m.limiter != nil {
		rates = m.limiter.AllStats()
	}

	score := Score(metrics, len(open) > 0, len(halfOpen) > 0)
	status := StatusFor(score, len(open) > 0)
	return Report{
		Timestamp:       m.now().UTC(),
		Status:          status,
		Score:           score,
		Metrics:         metrics,
		Circuits:        circuits,
		RateLimits:      rates,
		Recommendations: recommendations(status, metrics, open),
	}
}

// Reset clears the tracker. Circuit and rate limiter state is left alone.
func (m *Monitor) Reset() {
	m.tracker.Reset()
}

func recommendations(status IntegrationStatus, m Metrics, open []string) []string {
	var recs []string
	switch status {
	case IntegrationCircuitOpen:
		recs = append(recs,
			"Circuit breaker open for: "+strings.Join(open, ", "),
			"Check external service availability",
			"Review failure logs for the root cause",
		)
	case IntegrationUnhealthy:
		recs = append(recs,
			fmt.Sprintf("Failure rate is %.0f%%", m.FailureRate*100),
			"Check network connectivity and endpoint availability",
			"Review error logs for specific failures",
		)
	case IntegrationDegraded:
		recs = append(recs,
			fmt.Sprintf("Average latency is %s", m.AvgLatency),
			fmt.Sprintf("%d retried requests", m.Retries),
		)
	default:
		recs = append(recs, "System is healthy", "Continue monitoring for anomalies")
	}
	if m.RateLimitViolations > 0 && status != IntegrationHealthy {
		recs = append(recs,
			fmt.Sprintf("%d rate limit violations; batch or cache requests", m.RateLimitViolations),
			"Review rate limiter configuration",
		)
	}
	return recs
}

var _ resilience.Recorder = (*Tracker)(nil)
