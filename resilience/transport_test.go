package resilience

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTransportExecutor() *Executor {
	return NewExecutor(
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{PerSecond: 1000, PerMinute: 100000, MinInterval: -1})),
		WithRetry(NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Jitter: -1})),
	)
}

func TestTransport_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"status":"completed"}` {
			t.Errorf("attempt body = %q", body)
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := newTransportExecutor()
	client := &http.Client{Transport: NewTransport(e, nil)}

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/transactions/tx123/status", bytes.NewBufferString(`{"status":"completed"}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("response = %d %q", resp.StatusCode, body)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
	if _, ok := e.Breakers().Lookup("PUT:/transactions/tx123/status"); !ok {
		t.Error("breaker not keyed by request method and path")
	}
}

func TestTransport_ClientErrorPassesThrough(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(newTransportExecutor(), nil)}
	resp, err := client.Get(srv.URL + "/transactions/missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestTransport_ExhaustedReturnsResilienceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(newTransportExecutor(), nil)}
	_, err := client.Get(srv.URL + "/transactions/tx1")

	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Get() error = %v, want ErrRetriesExhausted", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("cause = %v, want 502", err)
	}
}

func TestTransport_UnreplayableBody(t *testing.T) {
	tr := NewTransport(newTransportExecutor(), nil)
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid/x", io.NopCloser(bytes.NewReader([]byte("x"))))
	req.GetBody = nil

	if _, err := tr.RoundTrip(req); err == nil {
		t.Error("RoundTrip() error = nil, want replay error")
	}
}
