package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jonwraymond/payrelay/observe"
)

// MaxBodyBytes caps inbound webhook bodies.
const MaxBodyBytes = 1 << 20

// Enqueuer accepts events for delivery. *Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventType string, payload json.RawMessage, relatedID string, metadata map[string]any) (Event, error)
}

// Receiver is the HTTP endpoint for signed inbound webhooks. It verifies
// the signature, validates the body and enqueues it; delivery happens
// asynchronously.
type Receiver struct {
	queue    Enqueuer
	verifier *Verifier
	logger   observe.Logger
}

// NewReceiver creates a receiver. A nil verifier disables signature checks,
// which is logged on every request.
func NewReceiver(queue Enqueuer, verifier *Verifier, logger observe.Logger) *Receiver {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Receiver{
		queue:    queue,
		verifier: verifier,
		logger:   logger.With(observe.F("component", "webhook_receiver")),
	}
}

// Accepted is the 202 response body.
type Accepted struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotencyKey"`
	Status         Status `json:"status"`
}

// ServeHTTP implements http.Handler.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "empty payload")
		return
	}

	if rc.verifier == nil {
		rc.logger.Warn(ctx, "webhook signature verification skipped")
	} else if err := rc.verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
		rc.logger.Warn(ctx, "webhook signature rejected", observe.F("error", err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	p.EventType = strings.TrimSpace(p.EventType)
	if p.EventType == "" {
		writeError(w, http.StatusBadRequest, "missing eventType")
		return
	}

	var metadata map[string]any
	if len(p.Metadata) > 0 {
		metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			metadata[k] = v
		}
	}

	ev, err := rc.queue.Enqueue(ctx, p.EventType, body, p.TransactionID, metadata)
	if err != nil {
		rc.logger.Error(ctx, "webhook enqueue failed", observe.F("event_type", p.EventType), observe.F("error", err))
		if errors.Is(err, ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "could not enqueue event")
		return
	}

	writeJSON(w, http.StatusAccepted, Accepted{
		ID:             ev.ID,
		IdempotencyKey: ev.IdempotencyKey,
		Status:         ev.Status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
