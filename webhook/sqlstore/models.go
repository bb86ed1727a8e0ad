package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/jonwraymond/payrelay/webhook"
)

const tableName = "payrelay_webhook_events"

type eventRecord struct {
	bun.BaseModel `bun:"table:payrelay_webhook_events,alias:pwe"`

	ID             string         `bun:"id,pk"`
	IdempotencyKey string         `bun:"idempotency_key,notnull,unique"`
	EventType      string         `bun:"event_type,notnull"`
	Payload        string         `bun:"payload,notnull"`
	RelatedID      string         `bun:"related_id,notnull"`
	Metadata       map[string]any `bun:"metadata"`
	Status         string         `bun:"status,notnull"`
	RetryCount     int            `bun:"retry_count,notnull"`
	MaxRetries     int            `bun:"max_retries,notnull"`
	NextRetryAt    *time.Time     `bun:"next_retry_at,nullzero"`
	LastError      string         `bun:"last_error,notnull"`
	CreatedAt      time.Time      `bun:"created_at,notnull"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull"`
	ClaimedAt      *time.Time     `bun:"claimed_at,nullzero"`
	DeliveredAt    *time.Time     `bun:"delivered_at,nullzero"`
}

func recordFromEvent(ev webhook.Event) *eventRecord {
	return &eventRecord{
		ID:             ev.ID,
		IdempotencyKey: ev.IdempotencyKey,
		EventType:      ev.EventType,
		Payload:        string(ev.Payload),
		RelatedID:      ev.RelatedID,
		Metadata:       ev.Metadata,
		Status:         string(ev.Status),
		RetryCount:     ev.RetryCount,
		MaxRetries:     ev.MaxRetries,
		NextRetryAt:    timePtr(ev.NextRetryAt),
		LastError:      ev.LastError,
		CreatedAt:      ev.CreatedAt.UTC(),
		UpdatedAt:      ev.UpdatedAt.UTC(),
		ClaimedAt:      timePtr(ev.ClaimedAt),
		DeliveredAt:    timePtr(ev.DeliveredAt),
	}
}

func (r *eventRecord) toEvent() webhook.Event {
	ev := webhook.Event{
		ID:             r.ID,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      r.EventType,
		RelatedID:      r.RelatedID,
		Metadata:       r.Metadata,
		Status:         webhook.Status(r.Status),
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		NextRetryAt:    timeValue(r.NextRetryAt),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		ClaimedAt:      timeValue(r.ClaimedAt),
		DeliveredAt:    timeValue(r.DeliveredAt),
	}
	if r.Payload != "" {
		ev.Payload = json.RawMessage(r.Payload)
	}
	return ev
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
