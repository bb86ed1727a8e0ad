package cache

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"transaction key", "payrelay:payments.get:tx123", true},
		{"blank", "  ", false},
		{"line break", "payrelay:payments.get:tx\n1", false},
		{"at limit", strings.Repeat("k", 512), true},
		{"over limit", strings.Repeat("k", 513), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid && err != nil {
				t.Errorf("ValidateKey() = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ValidateKey() = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		override time.Duration
		want     time.Duration
		enabled  bool
	}{
		{"default ttl", DefaultPolicy(), 0, 30 * time.Second, true},
		{"override", DefaultPolicy(), 10 * time.Second, 10 * time.Second, true},
		{"negative override", DefaultPolicy(), -time.Second, 30 * time.Second, true},
		{"override clamped", DefaultPolicy(), time.Hour, 5 * time.Minute, true},
		{"default clamped", Policy{DefaultTTL: time.Hour, MaxTTL: time.Minute}, 0, time.Minute, true},
		{"disabled", Policy{}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.TTL(tt.override); got != tt.want {
				t.Errorf("TTL(%v) = %v, want %v", tt.override, got, tt.want)
			}
			if got := tt.policy.Enabled(); got != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.enabled)
			}
		})
	}
}
