// Package auth verifies bearer credentials and carries the resolved
// principal through request contexts.
package auth

import (
	"context"
	"time"
)

// Principal is the verified identity behind a token.
type Principal struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

type principalKey struct{}

// ContextWithPrincipal attaches p to ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by the gate or the
// bearer middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
