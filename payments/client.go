package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonwraymond/payrelay/resilience"
)

// Client is a TransactionStore backed by the remote payments API. Every
// request goes through a resilience.Executor.
//
// Endpoint keys use route templates, so all transactions share one
// breaker and one rate window per operation:
//
//	GET:/transactions/{id}
//	PUT:/transactions/{id}/status
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithBaseTransport sets the round tripper below the resilience layer.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.http.Transport.(*resilience.Transport).Base = rt
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, exec *resilience.Executor, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("payments: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("payments: base url %q must be absolute", baseURL)
	}

	transport := resilience.NewTransport(exec, nil)
	transport.Key = routeKey
	c := &Client{
		baseURL: u,
		http:    &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type routeCtxKey struct{}

// routeKey keys a request by the route template stored in its context.
func routeKey(r *http.Request) resilience.EndpointKey {
	if route, ok := r.Context().Value(routeCtxKey{}).(string); ok {
		return resilience.NewEndpointKey(r.Method, route)
	}
	return resilience.KeyForRequest(r)
}

// Get fetches a transaction.
func (c *Client) Get(ctx context.Context, id string) (Transaction, error) {
	resp, err := c.do(ctx, http.MethodGet, "/transactions/{id}", "transactions/"+url.PathEscape(id), nil)
	if err != nil {
		return Transaction{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	case resp.StatusCode >= 400:
		return Transaction{}, fmt.Errorf("payments: get %s: %s", id, resp.Status)
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return Transaction{}, fmt.Errorf("payments: decode transaction: %w", err)
	}
	return tx, nil
}

type statusUpdate struct {
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetStatus updates a transaction's status. The remote treats repeated
// updates to the same status as no-ops.
func (c *Client) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	body, err := json.Marshal(statusUpdate{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPut, "/transactions/{id}/status", "transactions/"+url.PathEscape(id)+"/status", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	case resp.StatusCode >= 400:
		return fmt.Errorf("payments: set status %s: %s", id, resp.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, route, path string, body []byte) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.WithValue(ctx, routeCtxKey{}, route), method, u.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unwrapURLError(err)
	}
	return resp, nil
}

// unwrapURLError strips the *url.Error wrapper added by http.Client so
// callers can inspect the *resilience.ResilienceError directly.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
