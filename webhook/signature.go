package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// SignatureHeader carries the body signature.
	SignatureHeader = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

// Sign returns the header value for body: "sha256=" followed by the
// standard base64 HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	return signaturePrefix + base64.StdEncoding.EncodeToString(mac(secret, body))
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. The secret must not be empty.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("webhook: signing secret is empty")
	}
	return &Verifier{secret: append([]byte(nil), secret...)}, nil
}

// Verify checks header against body in constant time.
func (v *Verifier) Verify(header string, body []byte) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	encoded, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return ErrInvalidSignature
	}
	got, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(v.secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}
