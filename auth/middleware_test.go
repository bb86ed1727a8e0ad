package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func adminRouter(t *testing.T) http.Handler {
	t.Helper()
	authn := NewJWTAuthenticator(testJWTConfig(), NewStaticKeyProvider(testKey))
	authz := NewRBACAuthorizer(DefaultRBACConfig())

	ok := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(PrincipalFromContext(r.Context())))
	}

	r := chi.NewRouter()
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(Middleware(authn))
		r.With(Require(authz, "circuits", "read")).Get("/circuits", ok)
		r.With(Require(authz, "circuits", "reset")).Post("/circuits/reset", ok)
		r.With(RequireRole(RoleAdmin)).Post("/webhooks/cleanup", ok)
	})
	return r
}

func tokenFor(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := NewSigner(testJWTConfig(), testKey).Sign("ops@example.com", roles, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}

func TestMiddleware_AdminRoutes(t *testing.T) {
	h := adminRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/v1/admin/circuits", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/admin/circuits", "garbage", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/v1/admin/circuits", tokenFor(t, RoleViewer), http.StatusOK},
		{"viewer cannot reset", http.MethodPost, "/v1/admin/circuits/reset", tokenFor(t, RoleViewer), http.StatusForbidden},
		{"admin resets", http.MethodPost, "/v1/admin/circuits/reset", tokenFor(t, RoleAdmin), http.StatusOK},
		{"operator lacks admin role", http.MethodPost, "/v1/admin/webhooks/cleanup", tokenFor(t, RoleOperator), http.StatusForbidden},
		{"admin role", http.MethodPost, "/v1/admin/webhooks/cleanup", tokenFor(t, RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("Status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				if rec.Body.String() != "ops@example.com" {
					t.Errorf("Body = %q, want principal", rec.Body.String())
				}
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("error body = %q, err = %v", rec.Body.String(), err)
			}
		})
	}
}

func TestMiddleware_UnauthorizedHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	adminRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/circuits", nil))

	if got := rec.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("WWW-Authenticate header should be set on 401")
	}
}

type failingAuthenticator struct{}

func (failingAuthenticator) Name() string { return "failing" }

func (failingAuthenticator) Authenticate(context.Context, *AuthRequest) (*AuthResult, error) {
	return nil, errors.New("key store down")
}

func TestMiddleware_InternalError(t *testing.T) {
	h := Middleware(failingAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRequire_WithoutIdentity(t *testing.T) {
	h := Require(NewRBACAuthorizer(DefaultRBACConfig()), "circuits", "read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequire_AuthorizerError(t *testing.T) {
	broken := AuthorizerFunc(func(context.Context, *AuthzRequest) error { return errors.New("policy store down") })
	h := Require(broken, "circuits", "read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{Principal: "ops"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
