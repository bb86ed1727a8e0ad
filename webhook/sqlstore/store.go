// Package sqlstore persists webhook events in SQLite or PostgreSQL through
// bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/jonwraymond/payrelay/webhook"
)

// Store is a webhook.Store backed by a SQL database.
type Store struct {
	db *bun.DB
}

// New wraps db. Call CreateSchema before first use.
func New(db *bun.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: bun db is required")
	}
	return &Store{db: db}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *bun.DB {
	return s.db
}

// CreateSchema creates the events table and its indexes if missing.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*eventRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}
	indexes := []struct {
		name    string
		columns []string
	}{
		{tableName + "_due_idx", []string{"status", "next_retry_at"}},
		{tableName + "_related_idx", []string{"related_id"}},
		{tableName + "_created_idx", []string{"created_at"}},
	}
	for _, idx := range indexes {
		if _, err := s.db.NewCreateIndex().
			Model((*eventRecord)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert persists a new event.
func (s *Store) Insert(ctx context.Context, ev webhook.Event) error {
	if ev.ID == "" || ev.IdempotencyKey == "" {
		return fmt.Errorf("%w: id and idempotency key are required", webhook.ErrInvalidEvent)
	}
	if _, err := s.db.NewInsert().Model(recordFromEvent(ev)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", webhook.ErrDuplicateEvent, ev.IdempotencyKey)
		}
		return fmt.Errorf("sqlstore: insert %s: %w", ev.ID, err)
	}
	return nil
}

// Get returns the event with id.
func (s *Store) Get(ctx context.Context, id string) (webhook.Event, error) {
	return s.getWhere(ctx, "?TableAlias.id = ?", id)
}

// GetByIdempotencyKey returns the event with the key.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (webhook.Event, error) {
	return s.getWhere(ctx, "?TableAlias.idempotency_key = ?", key)
}

func (s *Store) getWhere(ctx context.Context, where string, arg string) (webhook.Event, error) {
	record := &eventRecord{}
	err := s.db.NewSelect().Model(record).Where(where, arg).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webhook.Event{}, fmt.Errorf("%w: %s", webhook.ErrEventNotFound, arg)
		}
		return webhook.Event{}, fmt.Errorf("sqlstore: get %s: %w", arg, err)
	}
	return record.toEvent(), nil
}

// ClaimDue moves up to limit due events to processing in one statement.
// On PostgreSQL concurrent claimers skip each other's locked rows.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]webhook.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	lock := ""
	if s.db.Dialect().Name() == dialect.PG {
		lock = "FOR UPDATE SKIP LOCKED"
	}
	query := `
WITH due AS (
	SELECT id
	FROM ` + tableName + `
	WHERE status = ?
	  AND (next_retry_at IS NULL OR next_retry_at <= ?)
	ORDER BY created_at ASC, id ASC
	LIMIT ?
	` + lock + `
)
UPDATE ` + tableName + `
SET status = ?, claimed_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM due)
  AND status = ?
RETURNING *
`
	var records []eventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(query,
			string(webhook.StatusPending), now, limit,
			string(webhook.StatusProcessing), now, now,
			string(webhook.StatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: claim due: %w", err)
	}

	events := make([]webhook.Event, len(records))
	for i := range records {
		events[i] = records[i].toEvent()
	}
	// RETURNING order is unspecified.
	sortOldestFirst(events)
	return events, nil
}

// MarkDelivered moves a claimed event to delivered.
func (s *Store) MarkDelivered(ctx context.Context, c webhook.Claim, now time.Time) error {
	now = now.UTC()
	q := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(webhook.StatusDelivered)).
		Set("delivered_at = ?", now).
		Set("updated_at = ?", now).
		Set("next_retry_at = NULL").
		Set("claimed_at = NULL")
	return s.transition(ctx, q, c, webhook.StatusDelivered)
}

// ScheduleRetry moves a claimed event back to pending.
func (s *Store) ScheduleRetry(ctx context.Context, c webhook.Claim, retryCount int, nextRetryAt time.Time, lastErr string, now time.Time) error {
	q := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(webhook.StatusPending)).
		Set("retry_count = ?", retryCount).
		Set("next_retry_at = ?", nextRetryAt.UTC()).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", now.UTC()).
		Set("claimed_at = NULL")
	return s.transition(ctx, q, c, webhook.StatusPending)
}

// MarkFailed moves a claimed event to failed.
func (s *Store) MarkFailed(ctx context.Context, c webhook.Claim, retryCount int, lastErr string, now time.Time) error {
	q := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(webhook.StatusFailed)).
		Set("retry_count = ?", retryCount).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", now.UTC()).
		Set("next_retry_at = NULL").
		Set("claimed_at = NULL")
	return s.transition(ctx, q, c, webhook.StatusFailed)
}

// transition runs q against the event only while it is processing under
// claim c, and distinguishes a missing event, a superseded claim and a
// refused transition.
func (s *Store) transition(ctx context.Context, q *bun.UpdateQuery, c webhook.Claim, to webhook.Status) error {
	res, err := q.
		Where("id = ?", c.ID).
		Where("status = ?", string(webhook.StatusProcessing)).
		Where("claimed_at = ?", c.ClaimedAt.UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: update %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	current, err := s.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if current.Status == webhook.StatusProcessing {
		return fmt.Errorf("%w: %s claimed at %s", webhook.ErrClaimLost, c.ID, current.ClaimedAt)
	}
	return fmt.Errorf("%w: %s -> %s", webhook.ErrInvalidTransition, current.Status, to)
}

// RequeueFailed moves up to limit failed events back to pending.
func (s *Store) RequeueFailed(ctx context.Context, limit int, now time.Time) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	now = now.UTC()
	oldest := s.db.NewSelect().
		Model((*eventRecord)(nil)).
		Column("id").
		Where("status = ?", string(webhook.StatusFailed)).
		OrderExpr("created_at ASC, id ASC").
		Limit(limit)

	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(webhook.StatusPending)).
		Set("retry_count = 0").
		Set("next_retry_at = ?", now).
		Set("updated_at = ?", now).
		Where("id IN (?)", oldest).
		Where("status = ?", string(webhook.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: requeue failed: %w", err)
	}
	return rowsAffected(res)
}

// ReclaimStale moves processing events claimed before olderThan back to
// pending.
func (s *Store) ReclaimStale(ctx context.Context, olderThan, now time.Time) (int, error) {
	now = now.UTC()
	res, err := s.db.NewUpdate().
		Model((*eventRecord)(nil)).
		Set("status = ?", string(webhook.StatusPending)).
		Set("next_retry_at = ?", now).
		Set("updated_at = ?", now).
		Set("claimed_at = NULL").
		Where("status = ?", string(webhook.StatusProcessing)).
		Where("claimed_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: reclaim stale: %w", err)
	}
	return rowsAffected(res)
}

// DeleteOlderThan removes events created before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*eventRecord)(nil)).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete old events: %w", err)
	}
	return rowsAffected(res)
}

// CountByStatus counts events in status.
func (s *Store) CountByStatus(ctx context.Context, status webhook.Status) (int, error) {
	n, err := s.db.NewSelect().
		Model((*eventRecord)(nil)).
		Where("status = ?", string(status)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count %s: %w", status, err)
	}
	return n, nil
}

// ListByTransaction returns the events related to a transaction.
func (s *Store) ListByTransaction(ctx context.Context, transactionID string) ([]webhook.Event, error) {
	var records []eventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("related_id = ?", transactionID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list %s: %w", transactionID, err)
	}
	events := make([]webhook.Event, len(records))
	for i := range records {
		events[i] = records[i].toEvent()
	}
	return events, nil
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	return int(n), nil
}

func sortOldestFirst(events []webhook.Event) {
	slices.SortFunc(events, func(a, b webhook.Event) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ webhook.Store = (*Store)(nil)
