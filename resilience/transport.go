package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Transport is an http.RoundTripper that sends every request through an
// Executor, keyed by the request's method and path.
//
// Responses with status 408, 429 or 5xx count as failed attempts; once the
// budget is spent the *ResilienceError is returned instead of the response.
// Other responses, including 4xx, are returned unchanged. Response bodies are
// read in full inside the attempt, so the attempt timeout covers them.
type Transport struct {
	Executor *Executor

	// Base performs the actual round trip.
	// Default: http.DefaultTransport
	Base http.RoundTripper

	// Key derives the endpoint key.
	// Default: KeyForRequest
	Key func(*http.Request) EndpointKey
}

// NewTransport creates a transport backed by e.
func NewTransport(e *Executor, base http.RoundTripper) *Transport {
	return &Transport{Executor: e, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	keyFn := t.Key
	if keyFn == nil {
		keyFn = KeyForRequest
	}
	key := keyFn(req)

	hasBody := req.Body != nil && req.Body != http.NoBody
	if hasBody && req.GetBody == nil {
		return nil, fmt.Errorf("resilience: %s: request body cannot be replayed", key)
	}

	return Do(req.Context(), t.Executor, key, func(ctx context.Context) (*http.Response, error) {
		attemptReq := req.Clone(ctx)
		if hasBody {
			body, err := req.GetBody()
			if err != nil {
				return nil, Permanent(err)
			}
			attemptReq.Body = body
		}

		resp, err := base.RoundTrip(attemptReq)
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(data))
		resp.ContentLength = int64(len(data))

		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode >= 400 && statusErr.Retryable() {
			return nil, statusErr
		}
		return resp, nil
	})
}
