package auth

import "context"

// Authorizer decides whether an identity may perform an action on an admin
// resource. A denial is an error matching ErrForbidden; any other error means
// the decision could not be made.
type Authorizer interface {
	Name() string
	Authorize(ctx context.Context, req *AuthzRequest) error
}

// AuthzRequest asks whether Subject may perform Action on Resource.
// Resources are admin API areas such as "circuits", "ratelimits",
// "webhooks" and "transactions".
type AuthzRequest struct {
	Subject  *Identity
	Resource string
	Action   string
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, req *AuthzRequest) error

func (f AuthorizerFunc) Authorize(ctx context.Context, req *AuthzRequest) error {
	return f(ctx, req)
}

func (AuthorizerFunc) Name() string {
	return "func"
}
