package webhook

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a webhook event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusDelivered, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// transitions encodes the delivery state machine. Failed -> Pending is the
// operator requeue; Processing -> Pending covers both a scheduled retry and
// a stale claim being reclaimed.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusDelivered, StatusPending, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether an event may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Event is one persisted webhook event.
type Event struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotencyKey"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	RelatedID      string          `json:"relatedTransactionId,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Status         Status          `json:"status"`
	RetryCount     int             `json:"retryCount"`
	MaxRetries     int             `json:"maxRetries"`
	NextRetryAt    time.Time       `json:"nextRetryAt,omitzero"`
	LastError      string          `json:"lastError,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	ClaimedAt      time.Time       `json:"claimedAt,omitzero"`
	DeliveredAt    time.Time       `json:"deliveredAt,omitzero"`
}

// Due reports whether a pending event may be claimed at now. A zero
// NextRetryAt is due immediately.
func (e Event) Due(now time.Time) bool {
	return e.Status == StatusPending && !e.NextRetryAt.After(now)
}

// Claim identifies one ClaimDue hand-off of an event.
type Claim struct {
	ID        string
	ClaimedAt time.Time
}

// Claim returns the hand-off under which e was returned by ClaimDue.
func (e Event) Claim() Claim {
	return Claim{ID: e.ID, ClaimedAt: e.ClaimedAt}
}

// Stats counts events by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// Total returns the number of events across all statuses.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Delivered + s.Failed
}

func (s *Stats) set(status Status, n int) {
	switch status {
	case StatusPending:
		s.Pending = n
	case StatusProcessing:
		s.Processing = n
	case StatusDelivered:
		s.Delivered = n
	case StatusFailed:
		s.Failed = n
	}
}
