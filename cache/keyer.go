package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Keyer builds the cache key for an operation and its input. Equal inputs
// must give equal keys.
type Keyer interface {
	Key(op string, input any) (string, error)
}

// KeyFunc adapts a function to Keyer.
type KeyFunc func(op string, input any) (string, error)

// Key calls f.
func (f KeyFunc) Key(op string, input any) (string, error) { return f(op, input) }

// DefaultKeyer keys plain identifiers readably, as in
// "payrelay:payments.get:tx123", and any other input by a truncated SHA-256
// of its JSON encoding, as in "payrelay:payments.list:#1f3a...". JSON
// encoding sorts map keys, so map inputs hash deterministically.
type DefaultKeyer struct {
	Prefix string
}

// NewDefaultKeyer returns a keyer using the "payrelay" prefix.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{Prefix: "payrelay"}
}

// Key implements Keyer.
func (k *DefaultKeyer) Key(op string, input any) (string, error) {
	switch v := input.(type) {
	case string:
		if isIdent(v) {
			return k.join(op, v), nil
		}
	case int:
		return k.join(op, strconv.Itoa(v)), nil
	case int64:
		return k.join(op, strconv.FormatInt(v, 10)), nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("cache: encode %s input: %w", op, err)
	}
	sum := sha256.Sum256(raw)
	return k.join(op, "#"+hex.EncodeToString(sum[:8])), nil
}

func (k *DefaultKeyer) join(op, part string) string {
	if k.Prefix == "" {
		return op + ":" + part
	}
	return k.Prefix + ":" + op + ":" + part
}

// isIdent reports whether s is a short run of [A-Za-z0-9_.-], the shape of
// transaction and event IDs.
func isIdent(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-' {
			continue
		}
		return false
	}
	return true
}

var _ Keyer = (*DefaultKeyer)(nil)
