package auth

import (
	"context"
	"net/http"
)

// Authenticator turns request credentials into an Identity. Rejected
// credentials are reported through AuthResult; a non-nil error means the
// authenticator itself could not run, for example because its signing key
// is missing.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// AuthRequest carries the parts of an admin request used to authenticate it.
type AuthRequest struct {
	Headers http.Header

	// Resource is the request path.
	Resource string
}

// AuthResult is the outcome of one Authenticate call. Exactly one of
// Identity and Error is set.
type AuthResult struct {
	Authenticated bool
	Identity      *Identity
	Error         error
	Method        string
}

func granted(id *Identity) *AuthResult {
	return &AuthResult{Authenticated: true, Identity: id, Method: string(id.Method)}
}

func denied(method AuthMethod, err error) *AuthResult {
	return &AuthResult{Error: err, Method: string(method)}
}
