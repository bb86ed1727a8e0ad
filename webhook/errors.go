package webhook

import "errors"

var (
	// ErrDuplicateEvent is returned when an idempotency key already exists.
	ErrDuplicateEvent = errors.New("webhook: duplicate idempotency key")

	// ErrEventNotFound is returned when no event matches the lookup.
	ErrEventNotFound = errors.New("webhook: event not found")

	// ErrInvalidTransition is returned when a status change violates the
	// delivery state machine.
	ErrInvalidTransition = errors.New("webhook: invalid status transition")

	// ErrClaimLost is returned when an event was reclaimed and handed to
	// another claimer before the outcome of the earlier claim arrived.
	ErrClaimLost = errors.New("webhook: claim superseded")

	// ErrInvalidEvent is returned for events missing required fields.
	ErrInvalidEvent = errors.New("webhook: invalid event")

	// ErrMissingSignature is returned when a request carries no signature.
	ErrMissingSignature = errors.New("webhook: missing signature")

	// ErrInvalidSignature is returned when a signature does not match.
	ErrInvalidSignature = errors.New("webhook: invalid signature")

	// ErrNoTransactionID is returned when a payment event names no
	// transaction.
	ErrNoTransactionID = errors.New("webhook: event has no transaction id")
)
