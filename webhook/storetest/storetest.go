// Package storetest provides a conformance suite for webhook.Store
// implementations.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/payrelay/webhook"
)

// Base is the reference time used by the suite.
var Base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// NewEvent builds a pending event created at Base+offset.
func NewEvent(n int, offset time.Duration) webhook.Event {
	at := Base.Add(offset)
	return webhook.Event{
		ID:             fmt.Sprintf("evt-%03d", n),
		IdempotencyKey: fmt.Sprintf("whk_%03d", n),
		EventType:      webhook.EventPaymentSuccess,
		Payload:        json.RawMessage(fmt.Sprintf(`{"eventType":"payment.success","transactionId":"tx%d"}`, n)),
		RelatedID:      fmt.Sprintf("tx%d", n),
		Metadata:       map[string]any{"source": "test"},
		Status:         webhook.StatusPending,
		MaxRetries:     5,
		NextRetryAt:    at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// Run exercises every Store operation against stores built by newStore.
// Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) webhook.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		s := newStore(t)
		ev := NewEvent(1, 0)
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		got, err := s.Get(ctx, ev.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.IdempotencyKey != ev.IdempotencyKey || got.EventType != ev.EventType || got.RelatedID != ev.RelatedID {
			t.Errorf("Get() = %+v, want %+v", got, ev)
		}
		if got.Status != webhook.StatusPending {
			t.Errorf("Status = %q, want pending", got.Status)
		}
		if string(got.Payload) != string(ev.Payload) {
			t.Errorf("Payload = %s, want %s", got.Payload, ev.Payload)
		}
		if got.Metadata["source"] != "test" {
			t.Errorf("Metadata = %v", got.Metadata)
		}
		if !got.CreatedAt.Equal(ev.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ev.CreatedAt)
		}

		byKey, err := s.GetByIdempotencyKey(ctx, ev.IdempotencyKey)
		if err != nil || byKey.ID != ev.ID {
			t.Errorf("GetByIdempotencyKey() = %v, %v", byKey.ID, err)
		}

		if _, err := s.Get(ctx, "missing"); !errors.Is(err, webhook.ErrEventNotFound) {
			t.Errorf("Get(missing) error = %v, want ErrEventNotFound", err)
		}
		if _, err := s.GetByIdempotencyKey(ctx, "whk_missing"); !errors.Is(err, webhook.ErrEventNotFound) {
			t.Errorf("GetByIdempotencyKey(missing) error = %v, want ErrEventNotFound", err)
		}
	})

	t.Run("DuplicateKeyNeverOverwrites", func(t *testing.T) {
		s := newStore(t)
		first := NewEvent(1, 0)
		if err := s.Insert(ctx, first); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		dup := NewEvent(2, time.Second)
		dup.IdempotencyKey = first.IdempotencyKey
		dup.EventType = webhook.EventPaymentRefunded
		if err := s.Insert(ctx, dup); !errors.Is(err, webhook.ErrDuplicateEvent) {
			t.Fatalf("Insert(dup) error = %v, want ErrDuplicateEvent", err)
		}

		got, err := s.GetByIdempotencyKey(ctx, first.IdempotencyKey)
		if err != nil {
			t.Fatalf("GetByIdempotencyKey() error = %v", err)
		}
		if got.ID != first.ID || got.EventType != first.EventType {
			t.Errorf("stored event = %s/%s, want %s/%s", got.ID, got.EventType, first.ID, first.EventType)
		}
	})

	t.Run("ClaimDueOldestFirstWithLimit", func(t *testing.T) {
		s := newStore(t)
		for i, off := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
			if err := s.Insert(ctx, NewEvent(i+1, off)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}
		notDue := NewEvent(9, 0)
		notDue.NextRetryAt = Base.Add(time.Hour)
		if err := s.Insert(ctx, notDue); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		now := Base.Add(time.Minute)
		claimed, err := s.ClaimDue(ctx, now, 2)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		if len(claimed) != 2 {
			t.Fatalf("len(claimed) = %d, want 2", len(claimed))
		}
		if claimed[0].ID != "evt-002" || claimed[1].ID != "evt-003" {
			t.Errorf("claimed = %s, %s; want evt-002, evt-003", claimed[0].ID, claimed[1].ID)
		}
		for _, ev := range claimed {
			if ev.Status != webhook.StatusProcessing {
				t.Errorf("%s Status = %q, want processing", ev.ID, ev.Status)
			}
			if !ev.ClaimedAt.Equal(now) {
				t.Errorf("%s ClaimedAt = %v, want %v", ev.ID, ev.ClaimedAt, now)
			}
		}

		rest, err := s.ClaimDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		if len(rest) != 1 || rest[0].ID != "evt-001" {
			t.Errorf("second claim = %v, want only evt-001", ids(rest))
		}
	})

	t.Run("ClaimDueIsExclusive", func(t *testing.T) {
		s := newStore(t)
		const total = 20
		for i := range total {
			if err := s.Insert(ctx, NewEvent(i, time.Duration(i)*time.Millisecond)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := s.ClaimDue(ctx, Base.Add(time.Minute), 3)
					if err != nil {
						t.Errorf("ClaimDue() error = %v", err)
						return
					}
					if len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, ev := range claimed {
						seen[ev.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != total {
			t.Errorf("claimed %d distinct events, want %d", len(seen), total)
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("%s claimed %d times, want 1", id, n)
			}
		}
	})

	t.Run("Transitions", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 3; i++ {
			if err := s.Insert(ctx, NewEvent(i, 0)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}

		// Pending events cannot be settled before they are claimed.
		if err := s.MarkDelivered(ctx, webhook.Claim{ID: "evt-001"}, Base); !errors.Is(err, webhook.ErrInvalidTransition) {
			t.Errorf("MarkDelivered(pending) error = %v, want ErrInvalidTransition", err)
		}
		if err := s.MarkDelivered(ctx, webhook.Claim{ID: "missing"}, Base); !errors.Is(err, webhook.ErrEventNotFound) {
			t.Errorf("MarkDelivered(missing) error = %v, want ErrEventNotFound", err)
		}

		now := Base.Add(time.Second)
		claimed, err := s.ClaimDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		claims := make(map[string]webhook.Claim, len(claimed))
		for _, ev := range claimed {
			claims[ev.ID] = ev.Claim()
		}

		if err := s.MarkDelivered(ctx, claims["evt-001"], now); err != nil {
			t.Fatalf("MarkDelivered() error = %v", err)
		}
		next := now.Add(2 * time.Second)
		if err := s.ScheduleRetry(ctx, claims["evt-002"], 1, next, "503", now); err != nil {
			t.Fatalf("ScheduleRetry() error = %v", err)
		}
		if err := s.MarkFailed(ctx, claims["evt-003"], 5, "gave up", now); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}

		delivered, _ := s.Get(ctx, "evt-001")
		if delivered.Status != webhook.StatusDelivered || !delivered.DeliveredAt.Equal(now) {
			t.Errorf("evt-001 = %s delivered at %v", delivered.Status, delivered.DeliveredAt)
		}
		retry, _ := s.Get(ctx, "evt-002")
		if retry.Status != webhook.StatusPending || retry.RetryCount != 1 || !retry.NextRetryAt.Equal(next) || retry.LastError != "503" {
			t.Errorf("evt-002 = %+v", retry)
		}
		failed, _ := s.Get(ctx, "evt-003")
		if failed.Status != webhook.StatusFailed || failed.RetryCount != 5 || failed.LastError != "gave up" {
			t.Errorf("evt-003 = %+v", failed)
		}

		// Delivered is terminal.
		if err := s.ScheduleRetry(ctx, claims["evt-001"], 1, next, "x", now); !errors.Is(err, webhook.ErrInvalidTransition) {
			t.Errorf("ScheduleRetry(delivered) error = %v, want ErrInvalidTransition", err)
		}
		claimed, err = s.ClaimDue(ctx, next.Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		if len(claimed) != 1 || claimed[0].ID != "evt-002" {
			t.Errorf("claimed = %v, want only evt-002", ids(claimed))
		}
	})

	t.Run("RequeueFailed", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 3; i++ {
			if err := s.Insert(ctx, NewEvent(i, time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}
		now := Base.Add(time.Minute)
		claimed, err := s.ClaimDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		for _, ev := range claimed {
			if err := s.MarkFailed(ctx, ev.Claim(), 5, "boom", now); err != nil {
				t.Fatalf("MarkFailed() error = %v", err)
			}
		}

		later := now.Add(time.Minute)
		n, err := s.RequeueFailed(ctx, 2, later)
		if err != nil {
			t.Fatalf("RequeueFailed() error = %v", err)
		}
		if n != 2 {
			t.Errorf("RequeueFailed() = %d, want 2", n)
		}

		ev, _ := s.Get(ctx, "evt-001")
		if ev.Status != webhook.StatusPending || ev.RetryCount != 0 || !ev.NextRetryAt.Equal(later) {
			t.Errorf("evt-001 = %s retry=%d next=%v", ev.Status, ev.RetryCount, ev.NextRetryAt)
		}
		if count, _ := s.CountByStatus(ctx, webhook.StatusFailed); count != 1 {
			t.Errorf("failed count = %d, want 1", count)
		}
	})

	t.Run("ReclaimStale", func(t *testing.T) {
		s := newStore(t)
		for i := 1; i <= 2; i++ {
			if err := s.Insert(ctx, NewEvent(i, 0)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}
		if _, err := s.ClaimDue(ctx, Base, 1); err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		if _, err := s.ClaimDue(ctx, Base.Add(10*time.Minute), 1); err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}

		now := Base.Add(11 * time.Minute)
		n, err := s.ReclaimStale(ctx, now.Add(-5*time.Minute), now)
		if err != nil {
			t.Fatalf("ReclaimStale() error = %v", err)
		}
		if n != 1 {
			t.Errorf("ReclaimStale() = %d, want 1", n)
		}
		ev, _ := s.Get(ctx, "evt-001")
		if ev.Status != webhook.StatusPending || !ev.NextRetryAt.Equal(now) {
			t.Errorf("evt-001 = %s next=%v, want pending at %v", ev.Status, ev.NextRetryAt, now)
		}
		ev, _ = s.Get(ctx, "evt-002")
		if ev.Status != webhook.StatusProcessing {
			t.Errorf("evt-002 Status = %q, want processing", ev.Status)
		}
	})

	t.Run("SupersededClaimCannotSettle", func(t *testing.T) {
		s := newStore(t)
		if err := s.Insert(ctx, NewEvent(1, 0)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		first, err := s.ClaimDue(ctx, Base, 1)
		if err != nil || len(first) != 1 {
			t.Fatalf("ClaimDue() = %v, %v; want one event", ids(first), err)
		}
		now := Base.Add(10 * time.Minute)
		if n, err := s.ReclaimStale(ctx, now.Add(-5*time.Minute), now); err != nil || n != 1 {
			t.Fatalf("ReclaimStale() = %d, %v; want 1", n, err)
		}
		second, err := s.ClaimDue(ctx, now, 1)
		if err != nil || len(second) != 1 {
			t.Fatalf("ClaimDue() after reclaim = %v, %v; want one event", ids(second), err)
		}

		late := now.Add(time.Second)
		if err := s.MarkDelivered(ctx, first[0].Claim(), late); !errors.Is(err, webhook.ErrClaimLost) {
			t.Errorf("MarkDelivered(first claim) error = %v, want ErrClaimLost", err)
		}
		if err := s.ScheduleRetry(ctx, first[0].Claim(), 1, late, "late", late); !errors.Is(err, webhook.ErrClaimLost) {
			t.Errorf("ScheduleRetry(first claim) error = %v, want ErrClaimLost", err)
		}
		if err := s.MarkFailed(ctx, first[0].Claim(), 5, "late", late); !errors.Is(err, webhook.ErrClaimLost) {
			t.Errorf("MarkFailed(first claim) error = %v, want ErrClaimLost", err)
		}
		ev, _ := s.Get(ctx, "evt-001")
		if ev.Status != webhook.StatusProcessing || !ev.ClaimedAt.Equal(now) {
			t.Errorf("evt-001 = %s claimed at %v, want processing at %v", ev.Status, ev.ClaimedAt, now)
		}

		if err := s.MarkDelivered(ctx, second[0].Claim(), late); err != nil {
			t.Errorf("MarkDelivered(second claim) error = %v", err)
		}
	})

	t.Run("ZeroNextRetryAtIsDue", func(t *testing.T) {
		s := newStore(t)
		ev := NewEvent(1, 0)
		ev.NextRetryAt = time.Time{}
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}

		claimed, err := s.ClaimDue(ctx, Base, 10)
		if err != nil {
			t.Fatalf("ClaimDue() error = %v", err)
		}
		if len(claimed) != 1 || claimed[0].ID != ev.ID {
			t.Errorf("claimed = %v, want [%s]", ids(claimed), ev.ID)
		}
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		s := newStore(t)
		for i, off := range []time.Duration{0, 24 * time.Hour, 48 * time.Hour} {
			if err := s.Insert(ctx, NewEvent(i+1, off)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}
		n, err := s.DeleteOlderThan(ctx, Base.Add(36*time.Hour))
		if err != nil {
			t.Fatalf("DeleteOlderThan() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteOlderThan() = %d, want 2", n)
		}
		if _, err := s.Get(ctx, "evt-001"); !errors.Is(err, webhook.ErrEventNotFound) {
			t.Errorf("Get(evt-001) error = %v, want ErrEventNotFound", err)
		}
		// The key is free again once its event is gone.
		if err := s.Insert(ctx, NewEvent(1, 72*time.Hour)); err != nil {
			t.Errorf("Insert() after delete error = %v", err)
		}
	})

	t.Run("CountAndListByTransaction", func(t *testing.T) {
		s := newStore(t)
		a := NewEvent(1, 0)
		b := NewEvent(2, time.Second)
		b.RelatedID = a.RelatedID
		c := NewEvent(3, 2*time.Second)
		for _, ev := range []webhook.Event{b, a, c} {
			if err := s.Insert(ctx, ev); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}

		if n, _ := s.CountByStatus(ctx, webhook.StatusPending); n != 3 {
			t.Errorf("CountByStatus(pending) = %d, want 3", n)
		}
		if n, _ := s.CountByStatus(ctx, webhook.StatusDelivered); n != 0 {
			t.Errorf("CountByStatus(delivered) = %d, want 0", n)
		}

		list, err := s.ListByTransaction(ctx, a.RelatedID)
		if err != nil {
			t.Fatalf("ListByTransaction() error = %v", err)
		}
		if got := ids(list); len(got) != 2 || got[0] != "evt-001" || got[1] != "evt-002" {
			t.Errorf("ListByTransaction() = %v, want [evt-001 evt-002]", got)
		}
	})
}

func ids(events []webhook.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}
