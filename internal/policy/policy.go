package policy

import "context"

// Effect is the outcome a matching policy produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// GlobalScope marks a policy that applies to every tenant. Any other
// organization value scopes the policy to that tenant exclusively.
const GlobalScope = "global"

// Policy is one attribute-based authorization rule. Lower priority
// evaluates first; the first matching rule is terminal.
type Policy struct {
	ID           int64
	Organization string
	Effect       Effect
	Expression   *Expr
	Priority     int
	Enabled      bool
	Description  string
}

// Store supplies the enabled rule set for a tenant, ordered by
// ascending priority. Disabled policies and policies scoped to a
// different tenant must never be returned.
type Store interface {
	ListEnabled(ctx context.Context, tenant string) ([]Policy, error)
}
