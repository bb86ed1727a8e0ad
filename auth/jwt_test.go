package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	testKey = []byte("test-secret-key-at-least-32-bytes")
	testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func testJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:   "payrelay",
		Audience: "payrelay-admin",
		Now:      func() time.Time { return testNow },
	}
}

func bearer(token string) *AuthRequest {
	return &AuthRequest{Headers: map[string][]string{"Authorization": {"Bearer " + token}}}
}

func signClaims(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestNewJWTAuthenticator(t *testing.T) {
	authn := NewJWTAuthenticator(JWTConfig{}, NewStaticKeyProvider(testKey))

	if authn.Name() != "jwt" {
		t.Errorf("Name() = %v, want jwt", authn.Name())
	}
	if authn.config.HeaderName != "Authorization" || authn.config.TokenPrefix != "Bearer " {
		t.Errorf("header defaults = %q/%q", authn.config.HeaderName, authn.config.TokenPrefix)
	}
	if authn.config.PrincipalClaim != "sub" || authn.config.RolesClaim != "roles" {
		t.Errorf("claim defaults = %q/%q", authn.config.PrincipalClaim, authn.config.RolesClaim)
	}
}

func TestJWTAuthenticator_SignerRoundTrip(t *testing.T) {
	config := testJWTConfig()
	token, err := NewSigner(config, testKey).Sign("ops@example.com", []string{RoleAdmin, RoleViewer}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	result, err := NewJWTAuthenticator(config, NewStaticKeyProvider(testKey)).Authenticate(context.Background(), bearer(token))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !result.Authenticated {
		t.Fatalf("Authenticated = false, error = %v", result.Error)
	}

	id := result.Identity
	if id.Principal != "ops@example.com" {
		t.Errorf("Principal = %q, want ops@example.com", id.Principal)
	}
	if !id.HasRole(RoleAdmin) || !id.HasRole(RoleViewer) || len(id.Roles) != 2 {
		t.Errorf("Roles = %v, want [admin viewer]", id.Roles)
	}
	if id.Method != AuthMethodJWT || result.Method != "jwt" {
		t.Errorf("Method = %q/%q, want jwt", id.Method, result.Method)
	}
	if !id.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", id.ExpiresAt, testNow.Add(time.Hour))
	}
	if !id.IssuedAt.Equal(testNow) {
		t.Errorf("IssuedAt = %v, want %v", id.IssuedAt, testNow)
	}
	if id.Claims["iss"] != "payrelay" {
		t.Errorf("Claims[iss] = %v, want payrelay", id.Claims["iss"])
	}
}

func TestJWTAuthenticator_Authenticate(t *testing.T) {
	authn := NewJWTAuthenticator(testJWTConfig(), NewStaticKeyProvider(testKey))
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":   "ops@example.com",
			"iss":   "payrelay",
			"aud":   "payrelay-admin",
			"roles": "admin viewer",
			"exp":   testNow.Add(time.Hour).Unix(),
		}
	}
	with := func(k string, v any) jwt.MapClaims {
		c := valid()
		if v == nil {
			delete(c, k)
		} else {
			c[k] = v
		}
		return c
	}

	tests := []struct {
		name    string
		req     *AuthRequest
		wantErr error
	}{
		{"space separated roles", bearer(signClaims(t, jwt.SigningMethodHS256, valid(), testKey)), nil},
		{"missing header", &AuthRequest{}, ErrMissingCredentials},
		{"wrong scheme", &AuthRequest{Headers: map[string][]string{"Authorization": {"Basic abc"}}}, ErrMissingCredentials},
		{"garbage token", bearer("not-a-token"), ErrTokenMalformed},
		{"expired", bearer(signClaims(t, jwt.SigningMethodHS256, with("exp", testNow.Add(-time.Minute).Unix()), testKey)), ErrTokenExpired},
		{"no expiry", bearer(signClaims(t, jwt.SigningMethodHS256, with("exp", nil), testKey)), ErrInvalidCredentials},
		{"wrong issuer", bearer(signClaims(t, jwt.SigningMethodHS256, with("iss", "other"), testKey)), ErrInvalidCredentials},
		{"wrong audience", bearer(signClaims(t, jwt.SigningMethodHS256, with("aud", "other"), testKey)), ErrInvalidCredentials},
		{"no subject", bearer(signClaims(t, jwt.SigningMethodHS256, with("sub", nil), testKey)), ErrInvalidCredentials},
		{"wrong key", bearer(signClaims(t, jwt.SigningMethodHS256, valid(), []byte("another-key-another-key-another!"))), ErrInvalidCredentials},
		{"HS512 rejected", bearer(signClaims(t, jwt.SigningMethodHS512, valid(), testKey)), ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := authn.Authenticate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if tt.wantErr == nil {
				if !result.Authenticated {
					t.Fatalf("Authenticated = false, error = %v", result.Error)
				}
				if len(result.Identity.Roles) != 2 {
					t.Errorf("Roles = %v, want 2 roles", result.Identity.Roles)
				}
				return
			}
			if result.Authenticated {
				t.Fatal("Authenticated = true, want false")
			}
			if !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("Error = %v, want %v", result.Error, tt.wantErr)
			}
		})
	}
}

func TestJWTAuthenticator_Leeway(t *testing.T) {
	config := testJWTConfig()
	config.Leeway = time.Minute
	authn := NewJWTAuthenticator(config, NewStaticKeyProvider(testKey))

	token := signClaims(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"iss": "payrelay",
		"aud": "payrelay-admin",
		"exp": testNow.Add(-30 * time.Second).Unix(),
	}, testKey)

	result, err := authn.Authenticate(context.Background(), bearer(token))
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !result.Authenticated {
		t.Errorf("Authenticated = false within leeway, error = %v", result.Error)
	}
}

func TestJWTAuthenticator_MissingKey(t *testing.T) {
	token, err := NewSigner(testJWTConfig(), testKey).Sign("ops", nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	authn := NewJWTAuthenticator(testJWTConfig(), NewStaticKeyProvider(nil))
	if _, err := authn.Authenticate(context.Background(), bearer(token)); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Authenticate() error = %v, want ErrKeyNotFound", err)
	}
}

func TestSigner_Errors(t *testing.T) {
	if _, err := NewSigner(JWTConfig{}, nil).Sign("ops", nil, time.Hour); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Sign() without key error = %v, want ErrKeyNotFound", err)
	}
	if _, err := NewSigner(JWTConfig{}, testKey).Sign("", nil, time.Hour); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Sign() without subject error = %v, want ErrInvalidCredentials", err)
	}
}

func TestSigner_DefaultTTL(t *testing.T) {
	config := testJWTConfig()
	token, err := NewSigner(config, testKey).Sign("ops", nil, 0)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	result, _ := NewJWTAuthenticator(config, NewStaticKeyProvider(testKey)).Authenticate(context.Background(), bearer(token))
	if !result.Authenticated {
		t.Fatalf("Authenticated = false, error = %v", result.Error)
	}
	if want := testNow.Add(time.Hour); !result.Identity.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", result.Identity.ExpiresAt, want)
	}
}

func TestStaticKeyProvider_CopiesKey(t *testing.T) {
	key := []byte("original")
	p := NewStaticKeyProvider(key)
	key[0] = 'X'

	got, err := p.GetKey(context.Background(), "")
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if string(got) != "original" {
		t.Errorf("GetKey() = %q, want original", got)
	}
}
