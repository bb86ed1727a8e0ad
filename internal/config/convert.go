package config

import (
	"fmt"
	"strings"

	"github.com/jonwraymond/payrelay/auth"
	"github.com/jonwraymond/payrelay/cache"
	"github.com/jonwraymond/payrelay/resilience"
	"github.com/jonwraymond/payrelay/webhook"
	"github.com/jonwraymond/payrelay/webhook/sqlstore"
)

// Limiter returns the rate limiter configuration.
func (r RateLimitConfig) Limiter() resilience.RateLimiterConfig {
	return resilience.RateLimiterConfig{
		PerSecond:   r.PerSecond,
		PerMinute:   r.PerMinute,
		MinInterval: r.MinInterval,
	}
}

// CircuitBreaker returns the breaker configuration shared by every endpoint.
func (b BreakerConfig) CircuitBreaker() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold:   b.FailureThreshold,
		Cooldown:           b.Cooldown,
		CooldownMultiplier: b.CooldownMultiplier,
		MaxCooldown:        b.MaxCooldown,
	}
}

// Policy returns the retry configuration.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: r.MaxAttempts,
		MaxElapsed:  r.MaxElapsed,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

// Classifier returns the timeout classifier configuration. Rules are
// assumed valid; Validate checks them.
func (t TimeoutsConfig) Classifier() resilience.ClassifierConfig {
	cfg := resilience.ClassifierConfig{
		Fast:   t.Fast,
		Normal: t.Normal,
		Slow:   t.Slow,
	}
	if len(t.Rules) == 0 {
		return cfg
	}
	cfg.Rules = make([]resilience.TimeoutRule, 0, len(t.Rules))
	for _, r := range t.Rules {
		match, _ := r.matchKind()
		class, _ := r.class()
		cfg.Rules = append(cfg.Rules, resilience.TimeoutRule{Pattern: r.Pattern, Match: match, Class: class})
	}
	return cfg
}

func (r TimeoutRule) matchKind() (resilience.MatchKind, error) {
	switch strings.ToLower(r.Match) {
	case "", "prefix":
		return resilience.MatchPrefix, nil
	case "exact":
		return resilience.MatchExact, nil
	case "contains":
		return resilience.MatchContains, nil
	default:
		return resilience.MatchPrefix, fmt.Errorf("unknown match %q", r.Match)
	}
}

func (r TimeoutRule) class() (resilience.TimeoutClass, error) {
	return resilience.ParseTimeoutClass(r.Class)
}

// Bulkhead returns the bulkhead configuration and whether it is enabled.
func (b BulkheadConfig) Bulkhead() (resilience.BulkheadConfig, bool) {
	return resilience.BulkheadConfig{
		MaxConcurrent: b.MaxConcurrent,
		MaxWait:       b.MaxWait,
	}, b.MaxConcurrent > 0
}

// Queue returns the webhook queue configuration.
func (w WebhookConfig) Queue() webhook.Config {
	return webhook.Config{
		MaxRetries:       w.MaxRetries,
		BatchSize:        w.BatchSize,
		Concurrency:      w.Concurrency,
		PollInterval:     w.PollInterval,
		HandlerTimeout:   w.HandlerTimeout,
		StaleAfter:       w.StaleAfter,
		Retention:        w.Retention,
		RetryFailedLimit: w.RetryFailedLimit,
		Backoff: resilience.Backoff{
			Base:   w.BaseDelay,
			Max:    w.MaxDelay,
			Jitter: w.Jitter,
		},
	}
}

// Options returns the sqlstore open options.
func (s StoreConfig) Options() sqlstore.Options {
	return sqlstore.Options{
		Driver:       s.Driver,
		DSN:          s.DSN,
		MaxOpenConns: s.MaxOpenConns,
		Trace:        s.Trace,
	}
}

// Policy returns the transaction cache policy.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{
		DefaultTTL: c.TTL,
		MaxTTL:     c.MaxTTL,
		MaxEntries: c.MaxEntries,
	}
}

// Enabled reports whether the admin API has a signing key.
func (a AuthConfig) Enabled() bool {
	return a.JWTKey != ""
}

// JWT returns the authenticator configuration.
func (a AuthConfig) JWT() auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:   a.Issuer,
		Audience: a.Audience,
		Leeway:   a.Leeway,
	}
}
