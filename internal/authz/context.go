package authz

import (
	"context"

	"docvault.org/internal/policy"
)

type principalKey struct{}
type decisionKey struct{}

// ContextWithPrincipal attaches the resolved principal so handlers
// downstream of the middleware can read who acted without a second
// store round-trip.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal placed by the
// authorization middleware, or nil on unguarded paths.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// ContextWithDecision attaches the authorization decision.
func ContextWithDecision(ctx context.Context, d policy.Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the decision placed by the middleware.
// The second result is false on unguarded paths.
func DecisionFromContext(ctx context.Context) (policy.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(policy.Decision)
	return d, ok
}
