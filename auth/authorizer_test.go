package auth

import (
	"context"
	"errors"
	"testing"
)

func TestAuthorizerFunc(t *testing.T) {
	var seen []string
	authz := AuthorizerFunc(func(_ context.Context, req *AuthzRequest) error {
		seen = append(seen, req.Action)
		if req.Action != "read" {
			return ErrForbidden
		}
		return nil
	})

	if got := authz.Name(); got != "func" {
		t.Errorf("Name() = %v, want func", got)
	}
	if err := authz.Authorize(context.Background(), &AuthzRequest{Action: "read"}); err != nil {
		t.Errorf("Authorize(read) error = %v", err)
	}
	if err := authz.Authorize(context.Background(), &AuthzRequest{Action: "reset"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Authorize(reset) error = %v, want ErrForbidden", err)
	}
	if len(seen) != 2 {
		t.Errorf("calls = %v, want 2", seen)
	}
}
