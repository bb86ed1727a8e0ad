package auth

import (
	"context"
	"slices"
	"time"
)

// AuthMethod names the mechanism that produced an Identity.
type AuthMethod string

// AuthMethodJWT marks identities taken from a signed admin token.
const AuthMethodJWT AuthMethod = "jwt"

// Identity is an authenticated admin API caller.
type Identity struct {
	// Principal is the token subject, usually an operator's email.
	Principal string
	Roles     []string
	Method    AuthMethod

	// Claims holds every claim of the token the identity came from.
	Claims map[string]any

	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole reports whether role was granted to id.
func (id *Identity) HasRole(role string) bool {
	return role != "" && slices.Contains(id.Roles, role)
}

// IsExpired reports whether id is past its expiry at now. An identity
// without an expiry never expires.
func (id *Identity) IsExpired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && id.ExpiresAt.Before(now)
}

type identityCtxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityCtxKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// PrincipalFromContext returns the principal of the identity in ctx, or ""
// for anonymous requests. Admin handlers use it for audit logging.
func PrincipalFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Principal
	}
	return ""
}
