package resilience

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Rejection reasons reported in Decision.Reason.
const (
	ReasonPerSecond   = "per_second"
	ReasonPerMinute   = "per_minute"
	ReasonMinInterval = "min_interval"
)

const (
	shortHorizon = time.Second
	longHorizon  = time.Minute
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// PerSecond caps calls per endpoint in any trailing second.
	// Default: 10
	PerSecond int

	// PerMinute caps calls per endpoint in any trailing minute.
	// Default: 60
	PerMinute int

	// MinInterval is the minimum gap between two allowed calls to the same
	// endpoint. A negative value disables the check.
	// Default: 1s / PerSecond
	MinInterval time.Duration

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// RetryAfter estimates how long until the binding window frees a slot.
	RetryAfter time.Duration

	// Reason names the check that rejected the call.
	Reason string
}

// RateStats is a point-in-time view of one endpoint's rate window.
type RateStats struct {
	Endpoint      EndpointKey `json:"endpoint"`
	Allowed       int64       `json:"allowed"`
	Rejected      int64       `json:"rejected"`
	InLastSecond  int         `json:"in_last_second"`
	InLastMinute  int         `json:"in_last_minute"`
	LastAllowedAt time.Time   `json:"last_allowed_at,omitzero"`
}

// RateLimiter enforces two sliding windows and a minimum call interval per
// endpoint key.
//
// Each key owns its own window and lock, so checks on different keys do not
// contend.
type RateLimiter struct {
	config RateLimiterConfig

	mu      sync.RWMutex
	windows map[EndpointKey]*rateWindow

	violations atomic.Int64
}

type rateWindow struct {
	mu       sync.Mutex
	stamps   []time.Time
	last     time.Time
	allowed  int64
	rejected int64
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.PerSecond <= 0 {
		config.PerSecond = 10
	}
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	if config.MinInterval == 0 {
		config.MinInterval = time.Second / time.Duration(config.PerSecond)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config:  config,
		windows: make(map[EndpointKey]*rateWindow),
	}
}

// Allow checks whether a call to key may proceed and records it if so.
func (rl *RateLimiter) Allow(key EndpointKey) Decision {
	w := rl.window(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := rl.config.Now()
	w.pruneLocked(now)

	if d := rl.checkLocked(w, now); !d.Allowed {
		w.rejected++
		rl.violations.Add(1)
		return d
	}

	w.stamps = append(w.stamps, now)
	w.last = now
	w.allowed++
	return Decision{Allowed: true}
}

func (rl *RateLimiter) checkLocked(w *rateWindow, now time.Time) Decision {
	inSecond := w.countSince(now.Add(-shortHorizon))
	if inSecond >= rl.config.PerSecond {
		oldest := w.stamps[len(w.stamps)-inSecond]
		return Decision{RetryAfter: oldest.Add(shortHorizon).Sub(now), Reason: ReasonPerSecond}
	}

	if len(w.stamps) >= rl.config.PerMinute {
		oldest := w.stamps[len(w.stamps)-rl.config.PerMinute]
		return Decision{RetryAfter: oldest.Add(longHorizon).Sub(now), Reason: ReasonPerMinute}
	}

	if rl.config.MinInterval > 0 && !w.last.IsZero() {
		if gap := now.Sub(w.last); gap < rl.config.MinInterval {
			return Decision{RetryAfter: rl.config.MinInterval - gap, Reason: ReasonMinInterval}
		}
	}

	return Decision{Allowed: true}
}

// pruneLocked drops timestamps outside the long horizon.
func (w *rateWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-longHorizon)
	i := sort.Search(len(w.stamps), func(i int) bool {
		return w.stamps[i].After(cutoff)
	})
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// countSince counts timestamps strictly after cutoff.
func (w *rateWindow) countSince(cutoff time.Time) int {
	i := sort.Search(len(w.stamps), func(i int) bool {
		return w.stamps[i].After(cutoff)
	})
	return len(w.stamps) - i
}

func (rl *RateLimiter) window(key EndpointKey) *rateWindow {
	rl.mu.RLock()
	w, ok := rl.windows[key]
	rl.mu.RUnlock()
	if ok {
		return w
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok = rl.windows[key]; ok {
		return w
	}
	w = &rateWindow{}
	rl.windows[key] = w
	return w
}

// Stats returns the window statistics for key. The second return value is
// false when the key has never been checked.
func (rl *RateLimiter) Stats(key EndpointKey) (RateStats, bool) {
	rl.mu.RLock()
	w, ok := rl.windows[key]
	rl.mu.RUnlock()
	if !ok {
		return RateStats{Endpoint: key}, false
	}
	return rl.statsFor(key, w), true
}

// AllStats returns statistics for every known endpoint, sorted by key.
func (rl *RateLimiter) AllStats() []RateStats {
	rl.mu.RLock()
	keys := make([]EndpointKey, 0, len(rl.windows))
	windows := make(map[EndpointKey]*rateWindow, len(rl.windows))
	for k, w := range rl.windows {
		keys = append(keys, k)
		windows[k] = w
	}
	rl.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]RateStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, rl.statsFor(k, windows[k]))
	}
	return out
}

func (rl *RateLimiter) statsFor(key EndpointKey, w *rateWindow) RateStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := rl.config.Now()
	w.pruneLocked(now)
	return RateStats{
		Endpoint:      key,
		Allowed:       w.allowed,
		Rejected:      w.rejected,
		InLastSecond:  w.countSince(now.Add(-shortHorizon)),
		InLastMinute:  len(w.stamps),
		LastAllowedAt: w.last,
	}
}

// Violations returns the number of rejected calls since the last reset.
func (rl *RateLimiter) Violations() int64 {
	return rl.violations.Load()
}

// Reset clears the window for key.
func (rl *RateLimiter) Reset(key EndpointKey) {
	rl.mu.Lock()
	delete(rl.windows, key)
	rl.mu.Unlock()
}

// ResetAll clears every window and the violation counter.
func (rl *RateLimiter) ResetAll() {
	rl.mu.Lock()
	rl.windows = make(map[EndpointKey]*rateWindow)
	rl.mu.Unlock()
	rl.violations.Store(0)
}

// Config returns the rate limiter configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}
