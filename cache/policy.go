package cache

import "time"

// Policy bounds how long and how much the cache holds. The zero Policy
// disables caching.
type Policy struct {
	// DefaultTTL applies when a caller gives no TTL. Zero disables caching.
	DefaultTTL time.Duration

	// MaxTTL clamps every TTL. Zero means no clamp.
	MaxTTL time.Duration

	// MaxEntries bounds a MemoryCache. Zero means unbounded.
	MaxEntries int
}

// DefaultPolicy caches transaction reads for 30s, never longer than 5m, and
// holds at most 10000 entries.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: 30 * time.Second, MaxTTL: 5 * time.Minute, MaxEntries: 10000}
}

// Enabled reports whether the policy caches anything.
func (p Policy) Enabled() bool {
	return p.DefaultTTL > 0
}

// TTL returns override, or DefaultTTL when override is not positive,
// clamped to MaxTTL.
func (p Policy) TTL(override time.Duration) time.Duration {
	ttl := p.DefaultTTL
	if override > 0 {
		ttl = override
	}
	if p.MaxTTL > 0 {
		ttl = min(ttl, p.MaxTTL)
	}
	return ttl
}
