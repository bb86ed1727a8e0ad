package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a payment transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Transaction is the subset of a payment transaction that webhook side
// effects touch.
type Transaction struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

var (
	// ErrTransactionNotFound is returned when no transaction has the id.
	ErrTransactionNotFound = errors.New("payments: transaction not found")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("payments: invalid status")
)

// TransactionStore reads and updates transactions.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Idempotency: SetStatus to the current status must succeed.
// - Errors: unknown ids return ErrTransactionNotFound.
type TransactionStore interface {
	Get(ctx context.Context, id string) (Transaction, error)
	SetStatus(ctx context.Context, id string, status Status) error
}
