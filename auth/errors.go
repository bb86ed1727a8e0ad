package auth

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")

	// ErrKeyNotFound means no signing key is configured. It is an
	// operator error, not a caller error.
	ErrKeyNotFound = errors.New("auth: signing key not found")

	ErrForbidden = errors.New("auth: access denied")
)

// AuthzError explains a denied authorization. It matches ErrForbidden.
type AuthzError struct {
	Subject  string
	Resource string
	Action   string
	Reason   string
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("authorization denied: subject=%q resource=%q action=%q reason=%q",
		e.Subject, e.Resource, e.Action, e.Reason)
}

// Is makes errors.Is(err, ErrForbidden) hold for every *AuthzError.
func (e *AuthzError) Is(target error) bool {
	return target == ErrForbidden
}
