// Package auth authenticates and authorizes callers of the payrelay admin
// API.
//
// Admin tokens are HS256 JWTs carrying a subject and a roles claim. The
// Middleware authenticates a request and stores the Identity in its context;
// Require then asks an Authorizer whether the identity may perform an action
// on a resource. The default RBAC policy knows three roles:
//
//	admin     every action on every resource
//	operator  read circuits and rate limits, everything on webhooks
//	viewer    read only
//
// Usage with chi:
//
//	r.Route("/v1/admin", func(r chi.Router) {
//	    r.Use(auth.Middleware(authn))
//	    r.With(auth.Require(authz, "circuits", "reset")).Post("/circuits/reset", h)
//	})
package auth
