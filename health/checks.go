package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonwraymond/payrelay/resilience"
	"github.com/jonwraymond/payrelay/webhook"
)

// CircuitChecker reports unhealthy while any circuit is open and degraded
// while any circuit is half-open.
type CircuitChecker struct {
	breakers *resilience.BreakerRegistry
}

// NewCircuitChecker creates a checker over breakers.
func NewCircuitChecker(breakers *resilience.BreakerRegistry) *CircuitChecker {
	return &CircuitChecker{breakers: breakers}
}

// Name returns "circuits".
func (c *CircuitChecker) Name() string {
	return "circuits"
}

// Check implements Checker.
func (c *CircuitChecker) Check(context.Context) Result {
	st := c.breakers.Stats()
	details := map[string]any{
		"endpoints": st.Endpoints,
		"open":      st.Open,
		"half_open": st.HalfOpen,
	}

	if open := c.breakers.OpenCircuits(); len(open) > 0 {
		details["open_endpoints"] = keysToStrings(open)
		return Unhealthy(fmt.Sprintf("%d circuit(s) open", len(open)), ErrCircuitOpen).WithDetails(details)
	}
	if half := c.breakers.HalfOpenCircuits(); len(half) > 0 {
		details["half_open_endpoints"] = keysToStrings(half)
		return Degraded(fmt.Sprintf("%d circuit(s) probing", len(half))).WithDetails(details)
	}
	return Healthy("all circuits closed").WithDetails(details)
}

func keysToStrings(keys []resilience.EndpointKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// RateLimitChecker reports degraded while any endpoint sits at its
// per-minute cap.
type RateLimitChecker struct {
	limiter *resilience.RateLimiter
}

// NewRateLimitChecker creates a checker over limiter.
func NewRateLimitChecker(limiter *resilience.RateLimiter) *RateLimitChecker {
	return &RateLimitChecker{limiter: limiter}
}

// Name returns "ratelimit".
func (c *RateLimitChecker) Name() string {
	return "ratelimit"
}

// Check implements Checker.
func (c *RateLimitChecker) Check(context.Context) Result {
	perMinute := c.limiter.Config().PerMinute

	var saturated []string
	for _, st := range c.limiter.AllStats() {
		if st.InLastMinute >= perMinute {
			saturated = append(saturated, string(st.Endpoint))
		}
	}
	details := map[string]any{
		"violations": c.limiter.Violations(),
		"per_minute": perMinute,
	}
	if len(saturated) > 0 {
		details["saturated_endpoints"] = saturated
		return Degraded("rate limit reached for " + strings.Join(saturated, ", ")).WithDetails(details)
	}
	return Healthy("rate limiter within limits").WithDetails(details)
}

// QueueStatter reports webhook queue counts. *webhook.Queue implements it.
type QueueStatter interface {
	Stats(ctx context.Context) (webhook.Stats, error)
}

// QueueCheckerConfig configures QueueChecker.
type QueueCheckerConfig struct {
	// MaxPending is the pending backlog above which the queue is degraded.
	// Default: 1000
	MaxPending int

	// MaxFailed is the failed count above which the queue is degraded.
	// Default: 0
	MaxFailed int
}

// QueueChecker reports the webhook queue's backlog.
type QueueChecker struct {
	queue  QueueStatter
	config QueueCheckerConfig
}

// NewQueueChecker creates a checker over queue.
func NewQueueChecker(queue QueueStatter, config QueueCheckerConfig) *QueueChecker {
	if config.MaxPending <= 0 {
		config.MaxPending = 1000
	}
	if config.MaxFailed < 0 {
		config.MaxFailed = 0
	}
	return &QueueChecker{queue: queue, config: config}
}

// Name returns "webhooks".
func (c *QueueChecker) Name() string {
	return "webhooks"
}

// Check implements Checker.
func (c *QueueChecker) Check(ctx context.Context) Result {
	st, err := c.queue.Stats(ctx)
	if err != nil {
		return Unhealthy("webhook store unavailable", err)
	}
	details := map[string]any{
		"pending":    st.Pending,
		"processing": st.Processing,
		"delivered":  st.Delivered,
		"failed":     st.Failed,
	}

	var problems []string
	if st.Pending > c.config.MaxPending {
		problems = append(problems, fmt.Sprintf("%d pending", st.Pending))
	}
	if st.Failed > c.config.MaxFailed {
		problems = append(problems, fmt.Sprintf("%d failed", st.Failed))
	}
	if len(problems) > 0 {
		return Degraded("webhook backlog: " + strings.Join(problems, ", ")).WithDetails(details)
	}
	return Healthy("webhook queue draining").WithDetails(details)
}
