package cache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces the value for a cache miss.
type LoadFunc func(ctx context.Context) ([]byte, error)

// Stats counts Middleware outcomes.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Bypassed   int64 `json:"bypassed"`
	LoadErrors int64 `json:"load_errors"`
}

// Middleware puts a read-through cache in front of a loader. Concurrent
// misses for the same key share one load. Errors are never cached.
type Middleware struct {
	cache  Cache
	keyer  Keyer
	policy Policy
	group  singleflight.Group

	hits, misses, bypassed, loadErrors atomic.Int64
}

// NewMiddleware creates a new cache middleware. A nil keyer uses
// DefaultKeyer.
func NewMiddleware(cache Cache, keyer Keyer, policy Policy) *Middleware {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Middleware{
		cache:  cache,
		keyer:  keyer,
		policy: policy,
	}
}

// Fetch returns the cached value for (op, input), calling load on a miss and
// caching its result for the policy's default TTL. When caching is disabled
// or no key can be built, load runs directly.
func (m *Middleware) Fetch(ctx context.Context, op string, input any, load LoadFunc) ([]byte, error) {
	if !m.policy.Enabled() {
		m.bypassed.Add(1)
		return load(ctx)
	}
	key, err := m.keyer.Key(op, input)
	if err != nil || ValidateKey(key) != nil {
		m.bypassed.Add(1)
		return load(ctx)
	}

	if cached, ok := m.cache.Get(ctx, key); ok {
		m.hits.Add(1)
		return cached, nil
	}
	m.misses.Add(1)

	v, err, _ := m.group.Do(key, func() (any, error) {
		result, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = m.cache.Set(ctx, key, result, m.policy.TTL(0))
		return result, nil
	})
	if err != nil {
		m.loadErrors.Add(1)
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops the cached value for (op, input).
func (m *Middleware) Invalidate(ctx context.Context, op string, input any) error {
	key, err := m.keyer.Key(op, input)
	if err != nil {
		return err
	}
	m.group.Forget(key)
	return m.cache.Delete(ctx, key)
}

// Stats returns the outcome counters.
func (m *Middleware) Stats() Stats {
	return Stats{
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		Bypassed:   m.bypassed.Load(),
		LoadErrors: m.loadErrors.Load(),
	}
}
