package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAYRELAY_"

// applyEnv overlays PAYRELAY_* variables onto c. Unparseable values are
// errors rather than silently ignored.
func (c *Config) applyEnv() error {
	e := &envReader{}

	c.Server.Addr = e.str("SERVER_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = e.duration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = e.duration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = e.duration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.RateLimit.PerSecond = e.int("RATELIMIT_PER_SECOND", c.RateLimit.PerSecond)
	c.RateLimit.PerMinute = e.int("RATELIMIT_PER_MINUTE", c.RateLimit.PerMinute)
	c.RateLimit.MinInterval = e.duration("RATELIMIT_MIN_INTERVAL", c.RateLimit.MinInterval)

	c.Breaker.FailureThreshold = e.int("BREAKER_FAILURE_THRESHOLD", c.Breaker.FailureThreshold)
	c.Breaker.Cooldown = e.duration("BREAKER_COOLDOWN", c.Breaker.Cooldown)
	c.Breaker.CooldownMultiplier = e.float("BREAKER_COOLDOWN_MULTIPLIER", c.Breaker.CooldownMultiplier)
	c.Breaker.MaxCooldown = e.duration("BREAKER_MAX_COOLDOWN", c.Breaker.MaxCooldown)

	c.Retry.MaxAttempts = e.int("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.MaxElapsed = e.duration("RETRY_MAX_ELAPSED", c.Retry.MaxElapsed)
	c.Retry.BaseDelay = e.duration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = e.duration("RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.Retry.Jitter = e.duration("RETRY_JITTER", c.Retry.Jitter)

	c.Timeouts.Fast = e.duration("TIMEOUTS_FAST", c.Timeouts.Fast)
	c.Timeouts.Normal = e.duration("TIMEOUTS_NORMAL", c.Timeouts.Normal)
	c.Timeouts.Slow = e.duration("TIMEOUTS_SLOW", c.Timeouts.Slow)

	c.Bulkhead.MaxConcurrent = e.int("BULKHEAD_MAX_CONCURRENT", c.Bulkhead.MaxConcurrent)
	c.Bulkhead.MaxWait = e.duration("BULKHEAD_MAX_WAIT", c.Bulkhead.MaxWait)

	c.Webhook.MaxRetries = e.int("WEBHOOK_MAX_RETRIES", c.Webhook.MaxRetries)
	c.Webhook.BatchSize = e.int("WEBHOOK_BATCH_SIZE", c.Webhook.BatchSize)
	c.Webhook.Concurrency = e.int("WEBHOOK_CONCURRENCY", c.Webhook.Concurrency)
	c.Webhook.PollInterval = e.duration("WEBHOOK_POLL_INTERVAL", c.Webhook.PollInterval)
	c.Webhook.HandlerTimeout = e.duration("WEBHOOK_HANDLER_TIMEOUT", c.Webhook.HandlerTimeout)
	c.Webhook.StaleAfter = e.duration("WEBHOOK_STALE_AFTER", c.Webhook.StaleAfter)
	c.Webhook.Retention = e.duration("WEBHOOK_RETENTION", c.Webhook.Retention)
	c.Webhook.RetryFailedLimit = e.int("WEBHOOK_RETRY_FAILED_LIMIT", c.Webhook.RetryFailedLimit)
	c.Webhook.Secret = e.str("WEBHOOK_SECRET_REF", c.Webhook.Secret)

	c.Store.Driver = strings.ToLower(e.str("STORE_DRIVER", c.Store.Driver))
	c.Store.DSN = e.str("STORE_DSN", c.Store.DSN)
	c.Store.MaxOpenConns = e.int("STORE_MAX_OPEN_CONNS", c.Store.MaxOpenConns)
	c.Store.Trace = e.bool("STORE_TRACE", c.Store.Trace)

	c.Payments.BaseURL = e.str("PAYMENTS_BASE_URL", c.Payments.BaseURL)
	c.Payments.Token = e.str("PAYMENTS_TOKEN_REF", c.Payments.Token)

	c.Cache.TTL = e.duration("CACHE_TTL", c.Cache.TTL)
	c.Cache.MaxTTL = e.duration("CACHE_MAX_TTL", c.Cache.MaxTTL)
	c.Cache.MaxEntries = e.int("CACHE_MAX_ENTRIES", c.Cache.MaxEntries)

	c.Auth.JWTKey = e.str("AUTH_JWT_KEY_REF", c.Auth.JWTKey)
	c.Auth.Issuer = e.str("AUTH_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = e.str("AUTH_AUDIENCE", c.Auth.Audience)
	c.Auth.Leeway = e.duration("AUTH_LEEWAY", c.Auth.Leeway)

	c.Observe.ServiceName = e.str("SERVICE_NAME", c.Observe.ServiceName)
	c.Observe.Version = e.str("VERSION", c.Observe.Version)
	c.Observe.TracingExporter = e.str("TRACING_EXPORTER", c.Observe.TracingExporter)
	c.Observe.SamplePct = e.float("TRACING_SAMPLE_PCT", c.Observe.SamplePct)
	c.Observe.MetricsExporter = e.str("METRICS_EXPORTER", c.Observe.MetricsExporter)
	c.Observe.LogLevel = e.str("LOG_LEVEL", c.Observe.LogLevel)

	return errors.Join(e.errs...)
}

type envReader struct {
	errs []error
}

func (e *envReader) lookup(name string) (string, bool) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (e *envReader) fail(name, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, name, raw, err))
}

func (e *envReader) str(name, fallback string) string {
	if raw, ok := e.lookup(name); ok {
		return raw
	}
	return fallback
}

func (e *envReader) int(name string, fallback int) int {
	raw, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(name, raw, err)
		return fallback
	}
	return v
}

func (e *envReader) float(name string, fallback float64) float64 {
	raw, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(name, raw, err)
		return fallback
	}
	return v
}

func (e *envReader) bool(name string, fallback bool) bool {
	raw, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		e.fail(name, raw, errors.New("not a boolean"))
		return fallback
	}
}

// duration accepts Go duration strings ("90s", "5m").
func (e *envReader) duration(name string, fallback time.Duration) time.Duration {
	raw, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(name, raw, err)
		return fallback
	}
	return v
}
