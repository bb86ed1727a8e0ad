package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownProvider is returned for a reference naming no registered provider.
var ErrUnknownProvider = errors.New("secret: unknown provider")

// Resolver turns configured values into secrets.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver over providers. A strict resolver rejects
// references that resolve to the empty string.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers)), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// NewDefaultResolver creates a strict resolver with the env provider and a
// file provider resolving paths as given.
func NewDefaultResolver() (*Resolver, error) {
	return NewResolver(true, NewEnvProvider(), NewFileProvider("")), nil
}

// Register adds or replaces a provider under its name.
func (r *Resolver) Register(p Provider) {
	if p != nil {
		r.providers[p.Name()] = p
	}
}

// Close closes every registered provider.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ResolveValue expands ${VAR} references in value, then resolves it as a
// whole reference (env:, file: or secretref:) or, failing that, resolves
// every inline secretref: in it. A nil Resolver only expands.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil || r == nil {
		return expanded, err
	}
	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.lookup(ctx, provider, ref)
	}
	return r.resolveInline(ctx, expanded)
}

// ParseSecretRef splits a whole-value reference into provider and ref:
//
//	env:PAYRELAY_WEBHOOK_SECRET
//	file:/run/secrets/jwt_key
//	secretref:<provider>:<ref>
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	if rest, found := strings.CutPrefix(value, "secretref:"); found {
		provider, ref, ok = strings.Cut(rest, ":")
		return provider, ref, ok && provider != "" && ref != ""
	}
	for _, scheme := range [...]string{"env", "file"} {
		if ref, found := strings.CutPrefix(value, scheme+":"); found && ref != "" {
			return scheme, ref, true
		}
	}
	return "", "", false
}

func (r *Resolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s:%s resolved to an empty value", ErrNotFound, provider, ref)
	}
	return v, nil
}

var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// resolveInline replaces each secretref:<provider>:<ref> token in value,
// such as the token in "Bearer secretref:env:PAYMENTS_TOKEN".
func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	var firstErr error
	out := inlineRef.ReplaceAllStringFunc(value, func(token string) string {
		if firstErr != nil {
			return token
		}
		m := inlineRef.FindStringSubmatch(token)
		v, err := r.lookup(ctx, m[1], m[2])
		if err != nil {
			firstErr = err
			return token
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
