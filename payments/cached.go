package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/payrelay/cache"
)

const opGet = "payments.get"

// CachedStore puts a read-through cache in front of another
// TransactionStore. SetStatus invalidates the transaction's entry after the
// write, successful or not, so later reads go to the source.
type CachedStore struct {
	next  TransactionStore
	cache *cache.Middleware
}

// NewCachedStore wraps next with m.
func NewCachedStore(next TransactionStore, m *cache.Middleware) *CachedStore {
	return &CachedStore{next: next, cache: m}
}

// Get returns the transaction, from cache when possible.
func (s *CachedStore) Get(ctx context.Context, id string) (Transaction, error) {
	raw, err := s.cache.Fetch(ctx, opGet, id, func(ctx context.Context) ([]byte, error) {
		tx, err := s.next.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tx)
	})
	if err != nil {
		return Transaction{}, err
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Transaction{}, fmt.Errorf("payments: decode cached transaction: %w", err)
	}
	return tx, nil
}

// SetStatus updates the source and drops the cached copy.
func (s *CachedStore) SetStatus(ctx context.Context, id string, status Status) error {
	err := s.next.SetStatus(ctx, id, status)
	_ = s.cache.Invalidate(ctx, opGet, id)
	return err
}

// CacheStats returns the cache's hit and miss counters.
func (s *CachedStore) CacheStats() cache.Stats {
	return s.cache.Stats()
}

var _ TransactionStore = (*CachedStore)(nil)
