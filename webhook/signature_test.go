package webhook

import (
	"errors"
	"strings"
	"testing"
)

func TestSign_Format(t *testing.T) {
	got := Sign([]byte("secret"), []byte(`{"a":1}`))
	if !strings.HasPrefix(got, "sha256=") {
		t.Fatalf("Sign() = %q, want sha256= prefix", got)
	}
	if len(got) != len("sha256=")+44 {
		t.Errorf("len(Sign()) = %d, want %d", len(got), len("sha256=")+44)
	}
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"eventType":"payment.success","transactionId":"tx123"}`)
	v, err := NewVerifier([]byte("shh"))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{"valid", Sign([]byte("shh"), body), body, nil},
		{"valid with whitespace", "  " + Sign([]byte("shh"), body) + " ", body, nil},
		{"missing", "", body, ErrMissingSignature},
		{"wrong secret", Sign([]byte("other"), body), body, ErrInvalidSignature},
		{"tampered body", Sign([]byte("shh"), body), []byte(`{"eventType":"payment.refunded"}`), ErrInvalidSignature},
		{"no prefix", strings.TrimPrefix(Sign([]byte("shh"), body), "sha256="), body, ErrInvalidSignature},
		{"bad base64", "sha256=!!!", body, ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.body)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Verify() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier(nil); err == nil {
		t.Error("NewVerifier(nil) should fail")
	}
}

func TestNewVerifier_CopiesSecret(t *testing.T) {
	secret := []byte("shh")
	v, _ := NewVerifier(secret)
	body := []byte("{}")
	sig := Sign([]byte("shh"), body)
	secret[0] = 'X'
	if err := v.Verify(sig, body); err != nil {
		t.Errorf("Verify() after caller mutated secret: %v", err)
	}
}
