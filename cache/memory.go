package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache. Entries are indexed by expiry, so a
// cache bounded by Policy.MaxEntries sheds expired entries first and then
// the one due to expire soonest.
type MemoryCache struct {
	policy Policy
	now    func() time.Time

	mu     sync.RWMutex
	byKey  map[string]*entry
	expiry expiryHeap
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	pos       int
}

// NewMemoryCache creates an empty cache governed by policy.
func NewMemoryCache(policy Policy) *MemoryCache {
	return &MemoryCache{
		policy: policy,
		now:    time.Now,
		byKey:  make(map[string]*entry),
	}
}

// Get returns the live value under key. An expired entry is dropped.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.byKey[key]
	var value []byte
	var deadline time.Time
	if ok {
		value, deadline = e.value, e.expiresAt
	}
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Before(deadline) {
		return value, true
	}

	c.mu.Lock()
	if cur := c.byKey[key]; cur == e && !c.now().Before(cur.expiresAt) {
		c.removeLocked(cur)
	}
	c.mu.Unlock()
	return nil, false
}

// Set stores a copy of value for ttl, capped at Policy.MaxTTL. A ttl <= 0
// stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ceiling := c.policy.MaxTTL; ceiling > 0 && ttl > ceiling {
		ttl = ceiling
	}

	now := c.now()
	stored := append([]byte(nil), value...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byKey[key]; ok {
		e.value, e.expiresAt = stored, now.Add(ttl)
		heap.Fix(&c.expiry, e.pos)
		return nil
	}
	c.makeRoomLocked(now)
	e := &entry{key: key, value: stored, expiresAt: now.Add(ttl)}
	c.byKey[key] = e
	heap.Push(&c.expiry, e)
	return nil
}

// makeRoomLocked frees a slot for a new key when the cache is bounded.
func (c *MemoryCache) makeRoomLocked(now time.Time) {
	limit := c.policy.MaxEntries
	if limit <= 0 || len(c.byKey) < limit {
		return
	}
	for len(c.expiry) > 0 && !now.Before(c.expiry[0].expiresAt) {
		c.removeLocked(c.expiry[0])
	}
	if len(c.byKey) >= limit {
		c.removeLocked(c.expiry[0])
	}
}

func (c *MemoryCache) removeLocked(e *entry) {
	heap.Remove(&c.expiry, e.pos)
	delete(c.byKey, e.key)
}

// Delete removes key. Missing keys are not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	if e, ok := c.byKey[key]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
	return nil
}

// Len counts stored entries, including expired ones not yet dropped.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// expiryHeap orders entries by expiresAt, soonest first.
type expiryHeap []*entry

func (h expiryHeap) Len() int {
	return len(h)
}

func (h expiryHeap) Less(i, j int) bool {
	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return e
}

var _ Cache = (*MemoryCache)(nil)
