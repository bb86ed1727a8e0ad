// Package config loads payrelayd configuration.
//
// Values resolve in priority order: built-in defaults, then the optional YAML
// file, then PAYRELAY_* environment variables. Secret fields hold references
// (env:NAME, file:/path or a literal) that ResolveSecrets replaces with their
// values.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/payrelay/observe"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the resolved daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Bulkhead  BulkheadConfig  `yaml:"bulkhead"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Store     StoreConfig     `yaml:"store"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig configures the per-endpoint rate limiter.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`

	// MinInterval of zero derives 1s/PerSecond; negative disables it.
	MinInterval time.Duration `yaml:"min_interval"`
}

// BreakerConfig configures the per-endpoint circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	CooldownMultiplier float64       `yaml:"cooldown_multiplier"`
	MaxCooldown        time.Duration `yaml:"max_cooldown"`
}

// RetryConfig configures the outbound retry budget.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

// TimeoutRule maps a path pattern to a timeout class.
type TimeoutRule struct {
	Pattern string `yaml:"pattern"`
	Match   string `yaml:"match"` // prefix|exact|contains
	Class   string `yaml:"class"` // fast|normal|slow
}

// TimeoutsConfig configures the timeout classifier. Empty Rules keeps the
// built-in rule set.
type TimeoutsConfig struct {
	Fast   time.Duration `yaml:"fast"`
	Normal time.Duration `yaml:"normal"`
	Slow   time.Duration `yaml:"slow"`
	Rules  []TimeoutRule `yaml:"rules"`
}

// BulkheadConfig caps concurrent outbound calls. MaxConcurrent of zero
// disables the bulkhead.
type BulkheadConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxWait       time.Duration `yaml:"max_wait"`
}

// WebhookConfig configures the delivery queue and the receiver.
type WebhookConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BatchSize        int           `yaml:"batch_size"`
	Concurrency      int           `yaml:"concurrency"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	HandlerTimeout   time.Duration `yaml:"handler_timeout"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	Retention        time.Duration `yaml:"retention"`
	RetryFailedLimit int           `yaml:"retry_failed_limit"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	Jitter           time.Duration `yaml:"jitter"`

	// Secret is the HMAC key for inbound signatures, as a secret reference.
	Secret string `yaml:"secret"`
}

// StoreConfig selects the durable event store.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite|postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	Trace        bool   `yaml:"trace"`
}

// PaymentsConfig configures the remote payments API client.
type PaymentsConfig struct {
	BaseURL string `yaml:"base_url"`

	// Token is an optional bearer token, as a secret reference.
	Token string `yaml:"token"`
}

// CacheConfig configures the transaction read cache. A zero TTL disables
// caching.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// AuthConfig configures admin API authentication.
type AuthConfig struct {
	// JWTKey is the HS256 signing key, as a secret reference. Empty disables
	// the admin API.
	JWTKey   string        `yaml:"jwt_key"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName     string  `yaml:"service_name"`
	Version         string  `yaml:"version"`
	TracingExporter string  `yaml:"tracing_exporter"` // otlp|jaeger|stdout|none
	SamplePct       float64 `yaml:"sample_pct"`
	MetricsExporter string  `yaml:"metrics_exporter"` // otlp|prometheus|stdout|none
	LogLevel        string  `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 10,
			PerMinute: 60,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   5,
			Cooldown:           60 * time.Second,
			CooldownMultiplier: 1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			MaxElapsed:  2 * time.Minute,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      500 * time.Millisecond,
		},
		Timeouts: TimeoutsConfig{
			Fast:   5 * time.Second,
			Normal: 30 * time.Second,
			Slow:   60 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxRetries:       5,
			BatchSize:        10,
			PollInterval:     time.Second,
			HandlerTimeout:   30 * time.Second,
			StaleAfter:       5 * time.Minute,
			Retention:        30 * 24 * time.Hour,
			RetryFailedLimit: 50,
			BaseDelay:        time.Second,
			MaxDelay:         60 * time.Second,
			Jitter:           500 * time.Millisecond,
			Secret:           "env:PAYRELAY_WEBHOOK_SECRET",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			TTL:        30 * time.Second,
			MaxTTL:     5 * time.Minute,
			MaxEntries: 10000,
		},
		Auth: AuthConfig{
			Issuer:   "payrelay",
			Audience: "payrelay-admin",
			Leeway:   30 * time.Second,
		},
		Observe: ObserveConfig{
			ServiceName:     "payrelayd",
			TracingExporter: "none",
			SamplePct:       1,
			MetricsExporter: "prometheus",
			LogLevel:        "info",
		},
	}
}

// Load resolves configuration from defaults, the YAML file at path and the
// environment. A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent value, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Addr == "" {
		bad("server.addr is required")
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.PerMinute <= 0 {
		bad("ratelimit.per_second and ratelimit.per_minute must be positive")
	}
	if c.RateLimit.PerMinute < c.RateLimit.PerSecond {
		bad("ratelimit.per_minute %d is below per_second %d", c.RateLimit.PerMinute, c.RateLimit.PerSecond)
	}
	if c.Breaker.FailureThreshold <= 0 {
		bad("breaker.failure_threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		bad("breaker.cooldown must be positive")
	}
	if c.Breaker.CooldownMultiplier != 0 && c.Breaker.CooldownMultiplier < 1 {
		bad("breaker.cooldown_multiplier must be at least 1")
	}
	if c.Retry.MaxAttempts <= 0 {
		bad("retry.max_attempts must be positive")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		bad("retry.base_delay exceeds retry.max_delay")
	}
	for i, rule := range c.Timeouts.Rules {
		if rule.Pattern == "" {
			bad("timeouts.rules[%d].pattern is required", i)
		}
		if _, err := rule.matchKind(); err != nil {
			bad("timeouts.rules[%d]: %w", i, err)
		}
		if _, err := rule.class(); err != nil {
			bad("timeouts.rules[%d]: %w", i, err)
		}
	}
	if c.Bulkhead.MaxConcurrent < 0 {
		bad("bulkhead.max_concurrent must not be negative")
	}
	if c.Webhook.MaxRetries <= 0 {
		bad("webhook.max_retries must be positive")
	}
	if c.Webhook.BatchSize <= 0 {
		bad("webhook.batch_size must be positive")
	}
	switch h, st := c.Webhook.HandlerTimeout, c.Webhook.StaleAfter; {
	case h <= 0 || st <= 0:
		bad("webhook.handler_timeout and webhook.stale_after must be positive")
	case h >= st:
		bad("webhook.handler_timeout %s must be shorter than webhook.stale_after %s", h, st)
	}
	if c.Webhook.Secret == "" {
		bad("webhook.secret is required")
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, c.Store.Driver) {
		bad("store.driver %q is not sqlite or postgres", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		bad("store.dsn is required for postgres")
	}
	if c.Cache.MaxTTL > 0 && c.Cache.TTL > c.Cache.MaxTTL {
		bad("cache.ttl exceeds cache.max_ttl")
	}
	obs := c.Observe.Observer()
	if err := obs.Validate(); err != nil {
		bad("observe: %w", err)
	}

	return errors.Join(errs...)
}

// SecretResolver resolves secret references. *secret.Resolver implements it.
type SecretResolver interface {
	ResolveValue(ctx context.Context, value string) (string, error)
}

// ResolveSecrets replaces the secret references in c with their values.
// store.dsn is never resolved: SQLite DSNs start with "file:".
func (c *Config) ResolveSecrets(ctx context.Context, r SecretResolver) error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"webhook.secret", &c.Webhook.Secret},
		{"auth.jwt_key", &c.Auth.JWTKey},
		{"payments.token", &c.Payments.Token},
	}
	for _, f := range fields {
		if *f.ptr == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *f.ptr)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", f.name, err)
		}
		*f.ptr = v
	}
	return nil
}

// Observer converts the section to an observe.Config.
func (o ObserveConfig) Observer() observe.Config {
	cfg := observe.Config{
		ServiceName: o.ServiceName,
		Version:     o.Version,
		Logging:     observe.LoggingConfig{Enabled: true, Level: strings.ToLower(o.LogLevel)},
	}
	if o.TracingExporter != "" && o.TracingExporter != "none" {
		cfg.Tracing = observe.TracingConfig{Enabled: true, Exporter: o.TracingExporter, SamplePct: o.SamplePct}
	}
	if o.MetricsExporter != "" && o.MetricsExporter != "none" {
		cfg.Metrics = observe.MetricsConfig{Enabled: true, Exporter: o.MetricsExporter}
	}
	return cfg
}
