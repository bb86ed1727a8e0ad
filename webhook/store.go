package webhook

import (
	"context"
	"time"
)

// Store persists webhook events.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Atomicity: ClaimDue must hand each due event to exactly one caller.
//   - Idempotency: Insert never overwrites; a repeated idempotency key
//     returns ErrDuplicateEvent.
//   - Transitions: Mark*, ScheduleRetry and the bulk operations only move
//     events along edges allowed by CanTransition. Violations return
//     ErrInvalidTransition; unknown ids return ErrEventNotFound.
//   - Claims: Mark* and ScheduleRetry settle only the current claim. Once
//     ReclaimStale and ClaimDue have handed the event out again, the earlier
//     claim gets ErrClaimLost.
//   - Scheduling: a pending event with a zero NextRetryAt is due at once.
type Store interface {
	// Insert persists a new event.
	Insert(ctx context.Context, ev Event) error

	// Get returns the event with id.
	Get(ctx context.Context, id string) (Event, error)

	// GetByIdempotencyKey returns the event with the key.
	GetByIdempotencyKey(ctx context.Context, key string) (Event, error)

	// ClaimDue moves up to limit due pending events to processing, oldest
	// first, and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Event, error)

	// MarkDelivered moves a claimed event to delivered.
	MarkDelivered(ctx context.Context, c Claim, now time.Time) error

	// ScheduleRetry moves a claimed event back to pending.
	ScheduleRetry(ctx context.Context, c Claim, retryCount int, nextRetryAt time.Time, lastErr string, now time.Time) error

	// MarkFailed moves a claimed event to failed.
	MarkFailed(ctx context.Context, c Claim, retryCount int, lastErr string, now time.Time) error

	// RequeueFailed moves up to limit failed events back to pending with a
	// zero retry count. It returns the number moved.
	RequeueFailed(ctx context.Context, limit int, now time.Time) (int, error)

	// ReclaimStale moves processing events claimed before olderThan back to
	// pending. It returns the number moved.
	ReclaimStale(ctx context.Context, olderThan, now time.Time) (int, error)

	// DeleteOlderThan removes events created before cutoff, whatever their
	// status. It returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// CountByStatus counts events in status.
	CountByStatus(ctx context.Context, status Status) (int, error)

	// ListByTransaction returns the events related to a transaction, oldest
	// first.
	ListByTransaction(ctx context.Context, transactionID string) ([]Event, error)
}
