package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeoutClass buckets endpoints by how long a call is allowed to take.
type TimeoutClass int

const (
	// TimeoutNormal is the default class.
	TimeoutNormal TimeoutClass = iota
	// TimeoutFast is used for health and status probes.
	TimeoutFast
	// TimeoutSlow is used for payment initiation and confirmation.
	TimeoutSlow
)

// String returns the class name.
func (c TimeoutClass) String() string {
	switch c {
	case TimeoutFast:
		return "fast"
	case TimeoutNormal:
		return "normal"
	case TimeoutSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// ParseTimeoutClass parses a class name as returned by String.
func ParseTimeoutClass(s string) (TimeoutClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return TimeoutFast, nil
	case "normal", "":
		return TimeoutNormal, nil
	case "slow":
		return TimeoutSlow, nil
	default:
		return TimeoutNormal, fmt.Errorf("resilience: unknown timeout class %q", s)
	}
}

// MatchKind selects how a TimeoutRule pattern is compared to a path.
type MatchKind int

const (
	// MatchPrefix matches paths that start with the pattern.
	MatchPrefix MatchKind = iota
	// MatchExact matches the pattern exactly.
	MatchExact
	// MatchContains matches paths that contain the pattern.
	MatchContains
)

// TimeoutRule maps a path pattern to a timeout class.
type TimeoutRule struct {
	Pattern string
	Match   MatchKind
	Class   TimeoutClass
}

func (r TimeoutRule) matches(path string) bool {
	switch r.Match {
	case MatchExact:
		return path == r.Pattern
	case MatchContains:
		return strings.Contains(path, r.Pattern)
	default:
		return strings.HasPrefix(path, r.Pattern)
	}
}

// DefaultTimeoutRules returns the built-in rule set. Order matters: the first
// matching rule wins.
func DefaultTimeoutRules() []TimeoutRule {
	return []TimeoutRule{
		{Pattern: "/health", Match: MatchContains, Class: TimeoutFast},
		{Pattern: "/status", Match: MatchContains, Class: TimeoutFast},
		{Pattern: "/payments/initiate", Match: MatchContains, Class: TimeoutSlow},
		{Pattern: "/payments/confirm", Match: MatchContains, Class: TimeoutSlow},
	}
}

// ClassifierConfig configures the timeout classifier.
type ClassifierConfig struct {
	// Rules are evaluated in order.
	// Default: DefaultTimeoutRules()
	Rules []TimeoutRule

	// Fast is the ceiling for TimeoutFast.
	// Default: 5s
	Fast time.Duration

	// Normal is the ceiling for TimeoutNormal.
	// Default: 30s
	Normal time.Duration

	// Slow is the ceiling for TimeoutSlow.
	// Default: 60s
	Slow time.Duration
}

// TimeoutClassifier maps endpoint paths to timeout ceilings. It holds no
// mutable state and is safe for concurrent use.
type TimeoutClassifier struct {
	config ClassifierConfig
}

// NewTimeoutClassifier creates a classifier.
func NewTimeoutClassifier(config ClassifierConfig) *TimeoutClassifier {
	// Apply defaults
	if config.Rules == nil {
		config.Rules = DefaultTimeoutRules()
	}
	if config.Fast <= 0 {
		config.Fast = 5 * time.Second
	}
	if config.Normal <= 0 {
		config.Normal = 30 * time.Second
	}
	if config.Slow <= 0 {
		config.Slow = 60 * time.Second
	}

	return &TimeoutClassifier{config: config}
}

// Classify returns the class of the first rule matching path, or
// TimeoutNormal.
func (c *TimeoutClassifier) Classify(path string) TimeoutClass {
	for _, r := range c.config.Rules {
		if r.matches(path) {
			return r.Class
		}
	}
	return TimeoutNormal
}

// Ceiling returns the timeout for a class.
func (c *TimeoutClassifier) Ceiling(class TimeoutClass) time.Duration {
	switch class {
	case TimeoutFast:
		return c.config.Fast
	case TimeoutSlow:
		return c.config.Slow
	default:
		return c.config.Normal
	}
}

// TimeoutFor classifies the key's path and returns its ceiling.
func (c *TimeoutClassifier) TimeoutFor(key EndpointKey) time.Duration {
	return c.Ceiling(c.Classify(key.Path()))
}

// Config returns the classifier configuration.
func (c *TimeoutClassifier) Config() ClassifierConfig {
	return c.config
}

// WithTimeout runs op bounded by timeout.
//
// ErrTimeout is returned when the ceiling is exceeded. Cancellation of the
// parent context is returned as the context error. op keeps running in the
// background until it observes its own context.
func WithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
