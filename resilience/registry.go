package resilience

import (
	"sort"
	"sync"
)

// BreakerRegistry owns one CircuitBreaker per endpoint key. Breakers are
// created lazily on first use and live until the registry is discarded.
type BreakerRegistry struct {
	config CircuitBreakerConfig

	// onStateChange receives state changes of every breaker.
	onStateChange func(key EndpointKey, from, to State)

	mu       sync.RWMutex
	breakers map[EndpointKey]*CircuitBreaker
}

// RegistryOption configures a BreakerRegistry.
type RegistryOption func(*BreakerRegistry)

// WithStateChangeHook registers a callback for state changes of any breaker.
func WithStateChangeHook(fn func(key EndpointKey, from, to State)) RegistryOption {
	return func(r *BreakerRegistry) {
		r.onStateChange = fn
	}
}

// NewBreakerRegistry creates a registry whose breakers share config. A
// config.OnStateChange callback is ignored; use WithStateChangeHook.
func NewBreakerRegistry(config CircuitBreakerConfig, opts ...RegistryOption) *BreakerRegistry {
	r := &BreakerRegistry{
		config:   config,
		breakers: make(map[EndpointKey]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for key, creating it if needed.
func (r *BreakerRegistry) Get(key EndpointKey) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[key]; ok {
		return cb
	}

	config := r.config
	config.OnStateChange = nil
	if r.onStateChange != nil {
		hook := r.onStateChange
		config.OnStateChange = func(from, to State) {
			hook(key, from, to)
		}
	}
	cb = NewCircuitBreaker(config)
	r.breakers[key] = cb
	return cb
}

// Lookup returns the breaker for key without creating it.
func (r *BreakerRegistry) Lookup(key EndpointKey) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[key]
	return cb, ok
}

// EndpointSnapshot pairs an endpoint key with its breaker snapshot.
type EndpointSnapshot struct {
	Endpoint EndpointKey `json:"endpoint"`
	CircuitSnapshot
}

// Snapshots returns a snapshot of every breaker, sorted by key.
func (r *BreakerRegistry) Snapshots() []EndpointSnapshot {
	r.mu.RLock()
	keys := make([]EndpointKey, 0, len(r.breakers))
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for k, cb := range r.breakers {
		keys = append(keys, k)
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]EndpointSnapshot, len(keys))
	for i := range keys {
		out[i] = EndpointSnapshot{Endpoint: keys[i], CircuitSnapshot: breakers[i].Snapshot()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Reset resets the breaker for key. It reports false if the key is unknown.
func (r *BreakerRegistry) Reset(key EndpointKey) bool {
	cb, ok := r.Lookup(key)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll resets every breaker.
func (r *BreakerRegistry) ResetAll() {
	for _, cb := range r.all() {
		cb.Reset()
	}
}

// OpenCircuits returns the keys whose breakers are open.
func (r *BreakerRegistry) OpenCircuits() []EndpointKey {
	return r.inState(StateOpen)
}

// HalfOpenCircuits returns the keys whose breakers are half-open.
func (r *BreakerRegistry) HalfOpenCircuits() []EndpointKey {
	return r.inState(StateHalfOpen)
}

func (r *BreakerRegistry) inState(state State) []EndpointKey {
	var keys []EndpointKey
	for _, s := range r.Snapshots() {
		if s.State == state {
			keys = append(keys, s.Endpoint)
		}
	}
	return keys
}

func (r *BreakerRegistry) all() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	return out
}

// RegistryStats aggregates call outcomes across all breakers.
type RegistryStats struct {
	Endpoints      int     `json:"endpoints"`
	Open           int     `json:"open"`
	HalfOpen       int     `json:"half_open"`
	TotalCalls     int64   `json:"total_calls"`
	TotalFailures  int64   `json:"total_failures"`
	TotalSuccesses int64   `json:"total_successes"`
	Rejected       int64   `json:"rejected"`
	FailureRate    float64 `json:"failure_rate"`
}

// Stats aggregates every breaker's counters.
func (r *BreakerRegistry) Stats() RegistryStats {
	var st RegistryStats
	for _, s := range r.Snapshots() {
		st.Endpoints++
		switch s.State {
		case StateOpen:
			st.Open++
		case StateHalfOpen:
			st.HalfOpen++
		}
		st.TotalCalls += s.TotalCalls
		st.TotalFailures += s.TotalFailures
		st.TotalSuccesses += s.TotalSuccesses
		st.Rejected += s.Rejected
	}
	if st.TotalCalls > 0 {
		st.FailureRate = float64(st.TotalFailures) / float64(st.TotalCalls)
	}
	return st
}
