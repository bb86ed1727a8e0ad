package auth

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig describes admin tokens. It is shared by JWTAuthenticator and
// Signer so that minted tokens always validate.
type JWTConfig struct {
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string

	// HeaderName carries the token, after TokenPrefix.
	// Defaults: "Authorization" and "Bearer ".
	HeaderName  string
	TokenPrefix string

	// PrincipalClaim and RolesClaim name the subject and role claims.
	// Roles may be a list or a space separated string.
	// Defaults: "sub" and "roles".
	PrincipalClaim string
	RolesClaim     string

	// Leeway is the clock skew allowed on exp, nbf and iat.
	Leeway time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (c JWTConfig) withDefaults() JWTConfig {
	c.HeaderName = cmp.Or(c.HeaderName, "Authorization")
	c.TokenPrefix = cmp.Or(c.TokenPrefix, "Bearer ")
	c.PrincipalClaim = cmp.Or(c.PrincipalClaim, "sub")
	c.RolesClaim = cmp.Or(c.RolesClaim, "roles")
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// KeyProvider supplies the HMAC key for a token's kid header.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string) ([]byte, error)
}

// StaticKeyProvider returns one key regardless of kid.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider copies key.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: append([]byte(nil), key...)}
}

// GetKey fails with ErrKeyNotFound when the key is empty.
func (p *StaticKeyProvider) GetKey(context.Context, string) ([]byte, error) {
	if len(p.key) == 0 {
		return nil, ErrKeyNotFound
	}
	return p.key, nil
}

// JWTAuthenticator accepts HS256 bearer tokens that carry an expiry and a
// principal.
type JWTAuthenticator struct {
	config JWTConfig
	keys   KeyProvider
	parser *jwt.Parser
}

// NewJWTAuthenticator validates tokens described by config with keys.
func NewJWTAuthenticator(config JWTConfig, keys KeyProvider) *JWTAuthenticator {
	config = config.withDefaults()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
		jwt.WithTimeFunc(config.Now),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	return &JWTAuthenticator{config: config, keys: keys, parser: jwt.NewParser(opts...)}
}

func (a *JWTAuthenticator) Name() string {
	return "jwt"
}

// Authenticate validates the bearer token on req.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	raw, ok := strings.CutPrefix(req.Headers.Get(a.config.HeaderName), a.config.TokenPrefix)
	if raw = strings.TrimSpace(raw); !ok || raw == "" {
		return denied(AuthMethodJWT, ErrMissingCredentials), nil
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		return a.keys.GetKey(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("jwt: %w", err)
		}
		return denied(AuthMethodJWT, classify(err)), nil
	}

	id := a.identity(claims)
	if id.Principal == "" {
		return denied(AuthMethodJWT, ErrInvalidCredentials), nil
	}
	return granted(id), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrInvalidCredentials
	}
}

func (a *JWTAuthenticator) identity(claims jwt.MapClaims) *Identity {
	id := &Identity{
		Method: AuthMethodJWT,
		Claims: maps.Clone(claims),
		Roles:  roleList(claims[a.config.RolesClaim]),
	}
	id.Principal, _ = claims[a.config.PrincipalClaim].(string)
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		id.IssuedAt = iat.Time
	}
	return id
}

func roleList(v any) []string {
	switch v := v.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

var (
	_ Authenticator = (*JWTAuthenticator)(nil)
	_ KeyProvider   = (*StaticKeyProvider)(nil)
)
