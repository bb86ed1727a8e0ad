package secret

import (
	"context"
	"errors"
	"testing"
)

// mapProvider serves secrets from a map and fails on refs listed in fail.
type mapProvider struct {
	name   string
	values map[string]string
	fail   map[string]error
	closed bool
}

func (m *mapProvider) Name() string { return m.name }

func (m *mapProvider) Resolve(_ context.Context, ref string) (string, error) {
	if err := m.fail[ref]; err != nil {
		return "", err
	}
	v, ok := m.values[ref]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *mapProvider) Close() error {
	m.closed = true
	return nil
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"env:PAYRELAY_WEBHOOK_SECRET", "env", "PAYRELAY_WEBHOOK_SECRET", true},
		{"file:/run/secrets/jwt_key", "file", "/run/secrets/jwt_key", true},
		{"secretref:vault:payments/token", "vault", "payments/token", true},
		{"secretref:vault:a:b", "vault", "a:b", true},
		{"secretref::token", "", "token", false},
		{"secretref:vault", "vault", "", false},
		{"env:", "", "", false},
		{"whsec_literal", "", "", false},
	}
	for _, tt := range tests {
		provider, ref, ok := ParseSecretRef(tt.in)
		if ok != tt.ok || ok && (provider != tt.provider || ref != tt.ref) {
			t.Errorf("ParseSecretRef(%q) = %q, %q, %v; want %q, %q, %v",
				tt.in, provider, ref, ok, tt.provider, tt.ref, tt.ok)
		}
	}
}

func TestResolver_ResolveValue(t *testing.T) {
	t.Setenv("PAYRELAY_TEST_REGION", "eu")
	vault := &mapProvider{name: "vault", values: map[string]string{
		"payments/token": "tok_123",
		"eu/hmac":        "whsec_eu",
		"empty":          "",
	}}
	r := NewResolver(true, vault)

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"whole reference", "secretref:vault:payments/token", "tok_123", nil},
		{"inline reference", "Bearer secretref:vault:payments/token", "Bearer tok_123", nil},
		{"expanded before lookup", "secretref:vault:${PAYRELAY_TEST_REGION}/hmac", "whsec_eu", nil},
		{"literal", "whsec_literal", "whsec_literal", nil},
		{"unknown provider", "secretref:kms:key", "", ErrUnknownProvider},
		{"unknown inline provider", "Bearer secretref:kms:key", "", ErrUnknownProvider},
		{"missing secret", "secretref:vault:nope", "", ErrNotFound},
		{"strict empty", "secretref:vault:empty", "", ErrNotFound},
		{"env provider not registered", "env:PAYRELAY_TEST_REGION", "", ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveValue(context.Background(), tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveValue(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveValue(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ResolveValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_NonStrictAllowsEmpty(t *testing.T) {
	r := NewResolver(false, &mapProvider{name: "vault", values: map[string]string{"empty": ""}})
	got, err := r.ResolveValue(context.Background(), "secretref:vault:empty")
	if err != nil || got != "" {
		t.Errorf("ResolveValue() = %q, %v; want empty, nil", got, err)
	}
}

func TestResolver_ProviderErrorPropagates(t *testing.T) {
	denied := errors.New("permission denied")
	r := NewResolver(true, &mapProvider{name: "vault", fail: map[string]error{"jwt": denied}})
	if _, err := r.ResolveValue(context.Background(), "secretref:vault:jwt"); !errors.Is(err, denied) {
		t.Errorf("ResolveValue() error = %v, want %v", err, denied)
	}
}

func TestResolver_NilOnlyExpands(t *testing.T) {
	t.Setenv("PAYRELAY_TEST_REGION", "us")
	var r *Resolver
	got, err := r.ResolveValue(context.Background(), "region-${PAYRELAY_TEST_REGION}")
	if err != nil || got != "region-us" {
		t.Errorf("ResolveValue() = %q, %v; want region-us", got, err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() on nil resolver = %v", err)
	}
}

func TestResolver_Close(t *testing.T) {
	a := &mapProvider{name: "a"}
	b := &mapProvider{name: "b"}
	r := NewResolver(true, a, nil, b)
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Errorf("closed = %v/%v, want both closed", a.closed, b.closed)
	}
}
