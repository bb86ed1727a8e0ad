package auth_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/payrelay/auth"
)

func ExampleSigner_Sign() {
	config := auth.JWTConfig{Issuer: "payrelay", Audience: "payrelay-admin"}
	key := []byte("change-me-to-a-long-random-secret")

	token, err := auth.NewSigner(config, key).Sign("ops@example.com", []string{auth.RoleAdmin}, time.Hour)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	authn := auth.NewJWTAuthenticator(config, auth.NewStaticKeyProvider(key))
	result, _ := authn.Authenticate(context.Background(), &auth.AuthRequest{
		Headers: map[string][]string{"Authorization": {"Bearer " + token}},
	})

	fmt.Println("Authenticated:", result.Authenticated)
	fmt.Println("Principal:", result.Identity.Principal)
	fmt.Println("Admin:", result.Identity.HasRole(auth.RoleAdmin))
	// Output:
	// Authenticated: true
	// Principal: ops@example.com
	// Admin: true
}

func ExampleRBACAuthorizer_Authorize() {
	authz := auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
	operator := &auth.Identity{Principal: "oncall", Roles: []string{auth.RoleOperator}}

	for _, action := range []string{"read", "reset"} {
		err := authz.Authorize(context.Background(), &auth.AuthzRequest{
			Subject:  operator,
			Resource: "circuits",
			Action:   action,
		})
		fmt.Printf("%s circuits: allowed=%v\n", action, !errors.Is(err, auth.ErrForbidden))
	}
	// Output:
	// read circuits: allowed=true
	// reset circuits: allowed=false
}
