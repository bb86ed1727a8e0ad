package resilience

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// HTTPStatusError reports a non-success HTTP response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

// Error implements error.
func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return "resilience: http status " + e.Status
	}
	return fmt.Sprintf("resilience: http status %d", e.StatusCode)
}

// Retryable reports whether the status is 408, 429 or 5xx.
func (e *HTTPStatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500 && e.StatusCode <= 599:
		return true
	default:
		return false
	}
}

// StatusError returns an *HTTPStatusError for code, or nil for 1xx-3xx codes.
func StatusError(code int) error {
	if code < 400 {
		return nil
	}
	return &HTTPStatusError{StatusCode: code, Status: fmt.Sprintf("%d %s", code, http.StatusText(code))}
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Retryable marks err as transient regardless of its type.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// Permanent marks err as terminal regardless of its type.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsRetryable reports whether err belongs to the transient allow-list:
// connection failures, timeouts, TLS handshake failures and HTTP 408, 429 and
// 5xx responses. Everything else, including other 4xx responses and decoding
// errors, is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perm permanentError
	if errors.As(err, &perm) {
		return false
	}
	var marked retryableError
	if errors.As(err, &marked) {
		return true
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
