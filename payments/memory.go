package payments

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process TransactionStore.
type MemoryStore struct {
	mu   sync.RWMutex
	txns map[string]Transaction
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns: make(map[string]Transaction),
		now:  time.Now,
	}
}

// Put inserts or replaces a transaction.
func (s *MemoryStore) Put(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[tx.ID] = tx
}

// Get returns the transaction with id.
func (s *MemoryStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txns[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx, nil
}

// SetStatus updates the status of an existing transaction.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if tx.Status == status {
		return nil
	}
	tx.Status = status
	tx.UpdatedAt = s.now()
	s.txns[id] = tx
	return nil
}
