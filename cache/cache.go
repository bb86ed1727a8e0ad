package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxKeyLen bounds keys so a runaway input cannot bloat the cache index.
const maxKeyLen = 512

// ErrInvalidKey is returned for keys a Cache refuses to store.
var ErrInvalidKey = errors.New("cache: invalid key")

// Cache stores encoded values under string keys. Implementations are safe
// for concurrent use. A miss is (nil, false), never an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value for ttl. A ttl <= 0 stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete drops key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects blank keys, keys over 512 bytes and keys containing
// line breaks.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: blank", ErrInvalidKey)
	case len(key) > maxKeyLen:
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidKey, len(key), maxKeyLen)
	case strings.ContainsAny(key, "\r\n"):
		return fmt.Errorf("%w: contains a line break", ErrInvalidKey)
	}
	return nil
}
