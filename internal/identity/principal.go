// Package identity authenticates accounts and carries the signed-in
// principal through request contexts.
package identity

import (
	"context"

	"quill/internal/models"
)

// Principal is the authenticated caller.
type Principal struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UID == "" {
		return Principal{}, false
	}
	return p, true
}

// RequirePrincipal is PrincipalFromContext that fails with UNAUTHENTICATED.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, models.NewUnauthenticatedError("Authentication required")
	}
	return p, nil
}
