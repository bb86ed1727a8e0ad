package webhook

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Events are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*Event
	byKey  map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*Event),
		byKey:  make(map[string]string),
	}
}

// Insert persists a new event.
func (s *MemoryStore) Insert(_ context.Context, ev Event) error {
	if ev.ID == "" || ev.IdempotencyKey == "" {
		return fmt.Errorf("%w: id and idempotency key are required", ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[ev.IdempotencyKey]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.IdempotencyKey)
	}
	if _, ok := s.events[ev.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicateEvent, ev.ID)
	}
	stored := cloneEvent(ev)
	s.events[ev.ID] = &stored
	s.byKey[ev.IdempotencyKey] = ev.ID
	return nil
}

// Get returns the event with id.
func (s *MemoryStore) Get(_ context.Context, id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return cloneEvent(*ev), nil
}

// GetByIdempotencyKey returns the event with the key.
func (s *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return Event{}, fmt.Errorf("%w: key %s", ErrEventNotFound, key)
	}
	return cloneEvent(*s.events[id]), nil
}

// ClaimDue moves up to limit due events to processing.
func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Event
	for _, ev := range s.events {
		if ev.Due(now) {
			due = append(due, ev)
		}
	}
	sortOldestFirst(due)
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Event, 0, len(due))
	for _, ev := range due {
		ev.Status = StatusProcessing
		ev.ClaimedAt = now
		ev.UpdatedAt = now
		out = append(out, cloneEvent(*ev))
	}
	return out, nil
}

// MarkDelivered moves a claimed event to delivered.
func (s *MemoryStore) MarkDelivered(_ context.Context, c Claim, now time.Time) error {
	return s.transition(c, StatusDelivered, func(ev *Event) {
		ev.DeliveredAt = now
		ev.UpdatedAt = now
		ev.NextRetryAt = time.Time{}
		ev.ClaimedAt = time.Time{}
	})
}

// ScheduleRetry moves a claimed event back to pending.
func (s *MemoryStore) ScheduleRetry(_ context.Context, c Claim, retryCount int, nextRetryAt time.Time, lastErr string, now time.Time) error {
	return s.transition(c, StatusPending, func(ev *Event) {
		ev.RetryCount = retryCount
		ev.NextRetryAt = nextRetryAt
		ev.LastError = lastErr
		ev.UpdatedAt = now
		ev.ClaimedAt = time.Time{}
	})
}

// MarkFailed moves a claimed event to failed.
func (s *MemoryStore) MarkFailed(_ context.Context, c Claim, retryCount int, lastErr string, now time.Time) error {
	return s.transition(c, StatusFailed, func(ev *Event) {
		ev.RetryCount = retryCount
		ev.LastError = lastErr
		ev.UpdatedAt = now
		ev.NextRetryAt = time.Time{}
		ev.ClaimedAt = time.Time{}
	})
}

// transition applies update if the event may move to status. It requires
// the event to be processing under claim c, which is the only source for
// these edges.
func (s *MemoryStore) transition(c Claim, to Status, update func(*Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[c.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, c.ID)
	}
	if ev.Status != StatusProcessing || !CanTransition(ev.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ev.Status, to)
	}
	if !ev.ClaimedAt.Equal(c.ClaimedAt) {
		return fmt.Errorf("%w: %s claimed at %s", ErrClaimLost, c.ID, ev.ClaimedAt)
	}
	ev.Status = to
	update(ev)
	return nil
}

// RequeueFailed moves up to limit failed events back to pending.
func (s *MemoryStore) RequeueFailed(_ context.Context, limit int, now time.Time) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []*Event
	for _, ev := range s.events {
		if ev.Status == StatusFailed {
			failed = append(failed, ev)
		}
	}
	sortOldestFirst(failed)
	if len(failed) > limit {
		failed = failed[:limit]
	}
	for _, ev := range failed {
		ev.Status = StatusPending
		ev.RetryCount = 0
		ev.NextRetryAt = now
		ev.UpdatedAt = now
	}
	return len(failed), nil
}

// ReclaimStale moves processing events claimed before olderThan back to
// pending.
func (s *MemoryStore) ReclaimStale(_ context.Context, olderThan, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.events {
		if ev.Status == StatusProcessing && ev.ClaimedAt.Before(olderThan) {
			ev.Status = StatusPending
			ev.NextRetryAt = now
			ev.ClaimedAt = time.Time{}
			ev.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// DeleteOlderThan removes events created before cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			delete(s.events, id)
			delete(s.byKey, ev.IdempotencyKey)
			n++
		}
	}
	return n, nil
}

// CountByStatus counts events in status.
func (s *MemoryStore) CountByStatus(_ context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.events {
		if ev.Status == status {
			n++
		}
	}
	return n, nil
}

// ListByTransaction returns the events related to a transaction.
func (s *MemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var related []*Event
	for _, ev := range s.events {
		if ev.RelatedID == transactionID {
			related = append(related, ev)
		}
	}
	sortOldestFirst(related)

	out := make([]Event, len(related))
	for i, ev := range related {
		out[i] = cloneEvent(*ev)
	}
	return out, nil
}

func sortOldestFirst(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
}

func cloneEvent(ev Event) Event {
	ev.Payload = slices.Clone(ev.Payload)
	ev.Metadata = maps.Clone(ev.Metadata)
	return ev
}

var _ Store = (*MemoryStore)(nil)
