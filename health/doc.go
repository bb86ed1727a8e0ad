// Package health reports the health of payrelay and its integrations.
//
// Two layers live here. The first is a generic checker framework: a Checker
// reports Healthy, Degraded or Unhealthy, an Aggregator runs many checkers
// under one deadline, and the HTTP handlers expose liveness, readiness and
// detailed views.
//
// The second is the integration monitor. A Tracker receives call outcomes
// from the resilience executor (it implements resilience.Recorder) and
// circuit transitions from the breaker registry. A Monitor combines those
// counters with live breaker and rate limiter state into a Report with a
// 0..100 score:
//
//	score = 100
//	      - 50 if any circuit is open, else 25 if any is half-open
//	      - 10 per rate limit violation, at most 30
//	      - 15 per circuit breaker error, at most 45
//	      - failure rate * 50, at most 40
//
// # Usage
//
//	tracker := health.NewTracker()
//	breakers := resilience.NewBreakerRegistry(cfg,
//	    resilience.WithStateChangeHook(tracker.OnStateChange))
//	exec := resilience.NewExecutor(
//	    resilience.WithBreakers(breakers),
//	    resilience.WithRecorder(tracker),
//	)
//
//	agg := health.NewAggregator()
//	agg.RegisterChecker(health.NewCircuitChecker(breakers))
//	mon := health.NewMonitor(tracker, breakers, exec.RateLimiter())
//	health.Routes(router, agg, mon)
package health
