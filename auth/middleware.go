package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware authenticates every request with authn and stores the identity
// in the request context. Failed authentication answers 401; an internal
// authenticator error answers 500.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := authn.Authenticate(r.Context(), &AuthRequest{
				Headers:  r.Header,
				Resource: r.URL.Path,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}
			if !result.Authenticated {
				w.Header().Set("WWW-Authenticate", `Bearer realm="payrelay"`)
				writeError(w, http.StatusUnauthorized, result.Error.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}

// Require permits the request only if authz allows the identity in the
// context to perform action on resource. It must run after Middleware.
func Require(authz Authorizer, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				writeError(w, http.StatusUnauthorized, ErrMissingCredentials.Error())
				return
			}
			err := authz.Authorize(r.Context(), &AuthzRequest{Subject: id, Resource: resource, Action: action})
			if errors.Is(err, ErrForbidden) {
				writeError(w, http.StatusForbidden, ErrForbidden.Error())
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authorization unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole permits the request only if the identity has role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return Require(AuthorizerFunc(func(_ context.Context, req *AuthzRequest) error {
		if req.Subject.HasRole(role) {
			return nil
		}
		return &AuthzError{Subject: req.Subject.Principal, Resource: req.Resource, Action: req.Action, Reason: "missing role " + role}
	}), "", "")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
