package resilience

import (
	"net/http"
	"strings"
)

// EndpointKey identifies an outbound endpoint as "METHOD:path".
//
// It is the unit of granularity for rate windows, circuit state and timeout
// classification.
type EndpointKey string

// NewEndpointKey builds a key from an HTTP method and a path. The method is
// upper-cased and any query string is dropped from the path.
func NewEndpointKey(method, path string) EndpointKey {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	return EndpointKey(strings.ToUpper(method) + ":" + path)
}

// KeyForRequest derives the endpoint key of an outgoing request.
func KeyForRequest(req *http.Request) EndpointKey {
	path := req.URL.EscapedPath()
	return NewEndpointKey(req.Method, path)
}

// Method returns the method half of the key.
func (k EndpointKey) Method() string {
	method, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return method
}

// Path returns the path half of the key. A key without a method separator is
// treated as a bare path.
func (k EndpointKey) Path() string {
	_, path, ok := strings.Cut(string(k), ":")
	if !ok {
		return string(k)
	}
	return path
}

// String returns the key text.
func (k EndpointKey) String() string {
	return string(k)
}
