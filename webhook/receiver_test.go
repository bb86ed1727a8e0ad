package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var receiverSecret = []byte("receiver-secret")

func newTestReceiver(t *testing.T, verify bool) (*Receiver, *Queue) {
	t.Helper()
	q := NewQueue(NewMemoryStore(), NewMux(), testConfig(newFakeClock()))
	var v *Verifier
	if verify {
		var err error
		v, err = NewVerifier(receiverSecret)
		if err != nil {
			t.Fatalf("NewVerifier() error = %v", err)
		}
	}
	return NewReceiver(q, v, nil), q
}

func post(rc http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	w := httptest.NewRecorder()
	rc.ServeHTTP(w, req)
	return w
}

func TestReceiver_Accepts(t *testing.T) {
	rc, q := newTestReceiver(t, true)
	body := []byte(`{"eventType":"payment.success","transactionId":"tx123","metadata":{"gateway":"acme"}}`)

	w := post(rc, body, Sign(receiverSecret, body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", w.Code, w.Body)
	}

	var got Accepted
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != StatusPending || !strings.HasPrefix(got.IdempotencyKey, IdempotencyKeyPrefix) {
		t.Errorf("response = %+v", got)
	}

	ev, err := q.Store().Get(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ev.EventType != EventPaymentSuccess || ev.RelatedID != "tx123" {
		t.Errorf("stored event = %s/%s", ev.EventType, ev.RelatedID)
	}
	if ev.Metadata["gateway"] != "acme" {
		t.Errorf("Metadata[gateway] = %v", ev.Metadata["gateway"])
	}
	if string(ev.Payload) != string(body) {
		t.Errorf("Payload = %s, want raw body", ev.Payload)
	}
}

func TestReceiver_Rejects(t *testing.T) {
	rc, q := newTestReceiver(t, true)
	valid := []byte(`{"eventType":"payment.success","transactionId":"tx1"}`)

	tests := []struct {
		name string
		body []byte
		sig  string
		want int
	}{
		{"missing signature", valid, "", http.StatusUnauthorized},
		{"bad signature", valid, Sign([]byte("wrong"), valid), http.StatusUnauthorized},
		{"empty body", []byte("   "), "", http.StatusBadRequest},
		{"invalid json", []byte(`{nope`), Sign(receiverSecret, []byte(`{nope`)), http.StatusBadRequest},
		{"missing event type", []byte(`{"transactionId":"tx1"}`), Sign(receiverSecret, []byte(`{"transactionId":"tx1"}`)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(rc, tt.body, tt.sig)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.want, w.Body)
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("error body = %s", w.Body)
			}
		})
	}

	if st, _ := q.Stats(context.Background()); st.Total() != 0 {
		t.Errorf("rejected requests enqueued %d events", st.Total())
	}
}

func TestReceiver_TooLarge(t *testing.T) {
	rc, _ := newTestReceiver(t, false)
	body := append([]byte(`{"eventType":"x","pad":"`), bytes.Repeat([]byte("a"), MaxBodyBytes)...)
	body = append(body, `"}`...)

	w := post(rc, body, "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestReceiver_SkipsVerificationWithoutSecret(t *testing.T) {
	rc, _ := newTestReceiver(t, false)
	body := []byte(`{"eventType":"payment.refunded","transactionId":"tx1"}`)
	if w := post(rc, body, ""); w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

type failingEnqueuer struct{ err error }

func (f failingEnqueuer) Enqueue(context.Context, string, json.RawMessage, string, map[string]any) (Event, error) {
	return Event{}, f.err
}

func TestReceiver_EnqueueFailure(t *testing.T) {
	body := []byte(`{"eventType":"payment.success"}`)

	rc := NewReceiver(failingEnqueuer{errors.New("db down")}, nil, nil)
	if w := post(rc, body, ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	rc = NewReceiver(failingEnqueuer{ErrInvalidEvent}, nil, nil)
	if w := post(rc, body, ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
