package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/payments"
)

// Payment event types.
const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentFailed   = "payment.failed"
	EventPaymentRefunded = "payment.refunded"
)

// paymentStatuses maps payment event types to the resulting transaction
// status.
var paymentStatuses = map[string]payments.Status{
	EventPaymentSuccess:  payments.StatusCompleted,
	EventPaymentFailed:   payments.StatusFailed,
	EventPaymentRefunded: payments.StatusRefunded,
}

// PaymentStatusFor returns the transaction status a payment event sets.
func PaymentStatusFor(eventType string) (payments.Status, bool) {
	st, ok := paymentStatuses[eventType]
	return st, ok
}

// Payload is the JSON body of an inbound payment webhook.
type Payload struct {
	EventType     string            `json:"eventType"`
	TransactionID string            `json:"transactionId,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// PaymentHandler updates transaction status from payment events.
type PaymentHandler struct {
	store  payments.TransactionStore
	logger observe.Logger
}

// NewPaymentHandler creates a handler writing to store.
func NewPaymentHandler(store payments.TransactionStore, logger observe.Logger) *PaymentHandler {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &PaymentHandler{
		store:  store,
		logger: logger.With(observe.F("component", "payment_handler")),
	}
}

// Register routes every payment event type on mux to h.
func (h *PaymentHandler) Register(mux *Mux) {
	for eventType := range paymentStatuses {
		mux.Register(eventType, h)
	}
}

// Handle sets the transaction status for ev. Unknown event types are
// acknowledged without side effects.
func (h *PaymentHandler) Handle(ctx context.Context, ev Event) error {
	status, ok := PaymentStatusFor(ev.EventType)
	if !ok {
		h.logger.Debug(ctx, "ignoring event type", observe.F("event_type", ev.EventType), observe.F("event_id", ev.ID))
		return nil
	}

	txID, err := transactionID(ev)
	if err != nil {
		return err
	}

	if err := h.store.SetStatus(ctx, txID, status); err != nil {
		return fmt.Errorf("set transaction %s to %s: %w", txID, status, err)
	}
	h.logger.Info(ctx, "transaction status updated",
		observe.F("event_id", ev.ID),
		observe.F("transaction_id", txID),
		observe.F("status", string(status)),
	)
	return nil
}

// transactionID reads the transaction id from the payload, falling back to
// the event's related id.
func transactionID(ev Event) (string, error) {
	if len(ev.Payload) > 0 {
		var p Payload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", fmt.Errorf("%w: decode payload: %v", ErrInvalidEvent, err)
		}
		if id := strings.TrimSpace(p.TransactionID); id != "" {
			return id, nil
		}
	}
	if id := strings.TrimSpace(ev.RelatedID); id != "" {
		return id, nil
	}
	return "", ErrNoTransactionID
}

var _ Handler = (*PaymentHandler)(nil)
