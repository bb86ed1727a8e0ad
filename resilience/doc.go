// Package resilience protects outbound calls from cascading failure.
//
// Every policy is scoped by an EndpointKey ("METHOD:path") and the policies
// are composed by an Executor around one call.
//
// # Patterns
//
//   - Rate Limiter: two sliding windows (per second and per minute) plus a
//     minimum gap between calls, per endpoint.
//
//   - Timeout Classifier: ordered path rules map an endpoint to a fast,
//     normal or slow ceiling that bounds every attempt.
//
//   - Retry Budget: caps attempts and elapsed time of one call, with
//     exponential backoff plus jitter. Only errors on the transient
//     allow-list (IsRetryable) are retried.
//
//   - Circuit Breaker: a closed/open/half-open state machine per endpoint,
//     owned by a BreakerRegistry. An open circuit admits a single probe once
//     its cooldown has elapsed.
//
//   - Bulkhead: optional cap on concurrent calls across all endpoints.
//
// # Usage
//
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	        PerSecond: 10,
//	        PerMinute: 60,
//	    })),
//	    resilience.WithBreakers(resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
//	        FailureThreshold: 5,
//	        Cooldown:         time.Minute,
//	    })),
//	    resilience.WithRetry(resilience.NewRetryPolicy(resilience.RetryConfig{
//	        MaxAttempts: 3,
//	    })),
//	)
//
//	err := executor.Execute(ctx, resilience.NewEndpointKey("GET", "/users"), func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
//	switch {
//	case errors.Is(err, resilience.ErrRateLimited):
//	case errors.Is(err, resilience.ErrCircuitOpen):
//	case errors.Is(err, resilience.ErrRetriesExhausted):
//	case errors.Is(err, resilience.ErrNonRetryable):
//	}
//
// For HTTP clients, Transport applies the executor to every request.
package resilience
