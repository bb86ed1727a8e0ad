package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens signed without an explicit TTL.
const DefaultTokenTTL = time.Hour

// Signer mints admin tokens. payrelayd's token subcommand uses it.
type Signer struct {
	config JWTConfig
	key    []byte
}

// NewSigner copies key.
func NewSigner(config JWTConfig, key []byte) *Signer {
	return &Signer{config: config.withDefaults(), key: append([]byte(nil), key...)}
}

// Sign returns an HS256 token for subject holding roles. A ttl <= 0 means
// DefaultTokenTTL.
func (s *Signer) Sign(subject string, roles []string, ttl time.Duration) (string, error) {
	switch {
	case len(s.key) == 0:
		return "", ErrKeyNotFound
	case subject == "":
		return "", fmt.Errorf("jwt: %w: empty subject", ErrInvalidCredentials)
	case ttl <= 0:
		ttl = DefaultTokenTTL
	}

	issued := s.config.Now()
	claims := jwt.MapClaims{
		s.config.PrincipalClaim: subject,
		s.config.RolesClaim:     roles,
		"iat":                   jwt.NewNumericDate(issued),
		"exp":                   jwt.NewNumericDate(issued.Add(ttl)),
	}
	if iss := s.config.Issuer; iss != "" {
		claims["iss"] = iss
	}
	if aud := s.config.Audience; aud != "" {
		claims["aud"] = aud
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return tok, nil
}
