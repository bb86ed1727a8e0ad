package auth

import (
	"context"
	"strings"
)

// Roles of the default admin policy.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// RBACConfig is a role based admin policy.
type RBACConfig struct {
	Roles map[string]RoleConfig

	// DefaultRole applies to identities that carry no roles.
	DefaultRole string
}

// RoleConfig lists what one role may do.
type RoleConfig struct {
	// Permissions are "resource:action" pairs where either side may be
	// "*". A permission without a colon matches the action on any resource.
	Permissions []string

	// Inherits names roles whose permissions this role also holds.
	Inherits []string
}

// DefaultRBACConfig returns the admin API policy: viewers read everything,
// operators also manage webhooks, admins do anything.
func DefaultRBACConfig() RBACConfig {
	return RBACConfig{
		Roles: map[string]RoleConfig{
			RoleViewer:   {Permissions: []string{"*:read"}},
			RoleOperator: {Permissions: []string{"webhooks:*"}, Inherits: []string{RoleViewer}},
			RoleAdmin:    {Permissions: []string{"*:*"}},
		},
	}
}

// RBACAuthorizer authorizes against an RBACConfig. Role inheritance is
// flattened once at construction.
type RBACAuthorizer struct {
	grants      map[string][]string
	defaultRole string
}

// NewRBACAuthorizer compiles config. Inheritance cycles are tolerated.
func NewRBACAuthorizer(config RBACConfig) *RBACAuthorizer {
	a := &RBACAuthorizer{
		grants:      make(map[string][]string, len(config.Roles)),
		defaultRole: config.DefaultRole,
	}
	for name := range config.Roles {
		a.grants[name] = flatten(config.Roles, name, map[string]bool{})
	}
	return a
}

// flatten returns the permissions of role and every role it inherits.
func flatten(roles map[string]RoleConfig, role string, visited map[string]bool) []string {
	if visited[role] {
		return nil
	}
	visited[role] = true
	rc := roles[role]
	perms := append([]string(nil), rc.Permissions...)
	for _, parent := range rc.Inherits {
		perms = append(perms, flatten(roles, parent, visited)...)
	}
	return perms
}

func (a *RBACAuthorizer) Name() string {
	return "rbac"
}

// Authorize permits the request if any role of the subject grants it.
func (a *RBACAuthorizer) Authorize(_ context.Context, req *AuthzRequest) error {
	deny := &AuthzError{Resource: req.Resource, Action: req.Action}
	if req.Subject == nil {
		deny.Reason = "no identity provided"
		return deny
	}

	roles := req.Subject.Roles
	if len(roles) == 0 && a.defaultRole != "" {
		roles = []string{a.defaultRole}
	}
	for _, role := range roles {
		for _, perm := range a.grants[role] {
			if matchPermission(perm, req) {
				return nil
			}
		}
	}

	deny.Subject = req.Subject.Principal
	deny.Reason = "no role permits this action"
	return deny
}

func matchPermission(perm string, req *AuthzRequest) bool {
	resource, action, scoped := strings.Cut(perm, ":")
	if !scoped {
		resource, action = "*", perm
	}
	return wildcard(resource, req.Resource) && wildcard(action, req.Action)
}

func wildcard(pattern, value string) bool {
	return pattern == "*" || pattern == value
}

var _ Authorizer = (*RBACAuthorizer)(nil)
