package authz

import (
	"context"
	"strings"
	"time"
)

// Principal is the resolved set of user attributes a decision is made
// against. It is loaded fresh from the principal store per decision;
// token claims alone are never trusted for decisions with side
// effects.
type Principal struct {
	ID           int64
	Username     string
	Email        string
	Roles        []string
	Department   string
	Organization string
	Clearance    int
}

// PrimaryRole returns the first canonical role, or "" for a principal
// with no role data.
func (p *Principal) PrimaryRole() string {
	if p == nil || len(p.Roles) == 0 {
		return ""
	}
	return p.Roles[0]
}

// Resource carries the attributes of the object being acted on. It is
// absent (nil) for actions with no single addressed resource, such as
// a collection search.
type Resource struct {
	ID           int64
	OwnerID      int64
	Organization string
	Department   string
	Sensitivity  int
}

// PrincipalStore loads user attributes by numeric id.
// Implementations return ErrPrincipalNotFound only for genuinely
// missing accounts and wrap every other failure in
// ErrStoreUnavailable, so callers can tell outage from absence.
type PrincipalStore interface {
	Find(ctx context.Context, id int64) (*Principal, error)
}

// ResourceStore loads resource attributes by numeric id. A missing
// row yields (nil, nil): the policy set decides what to make of an
// unresolvable resource.
type ResourceStore interface {
	Find(ctx context.Context, id int64) (*Resource, error)
}

// NormalizeRoles converts role data that may arrive as a scalar, a
// list, or a list-shaped string into a canonical ordered set of
// lower-cased role tokens. Nothing downstream branches on the source
// shape.
func NormalizeRoles(v any) []string {
	switch roles := v.(type) {
	case nil:
		return nil
	case string:
		return splitRoleString(roles)
	case []string:
		return dedupeRoles(roles)
	case []any:
		out := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return dedupeRoles(out)
	default:
		return nil
	}
}

// splitRoleString handles both a single role ("admin") and the
// list-shaped strings legacy rows carry ("['admin','user']",
// "admin,user").
func splitRoleString(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return dedupeRoles(out)
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}

// RequestContext is the contextual slice of the attribute bag.
type RequestContext struct {
	IP        string
	Method    string
	Path      string
	UserAgent string
	Time      time.Time
}

// BuildBag assembles the {user, resource, action, context} structure
// the policy evaluator scores rules against. A nil resource yields an
// empty resource map, matching how resource-less actions have always
// been expressed in rules.
func BuildBag(principal *Principal, resource *Resource, action string, reqCtx RequestContext) map[string]any {
	// "org" and "organization" both resolve: stored rules predate the
	// shorter alias and must keep matching.
	user := map[string]any{
		"id":           principal.ID,
		"username":     principal.Username,
		"email":        principal.Email,
		"role":         principal.PrimaryRole(),
		"roles":        principal.Roles,
		"department":   principal.Department,
		"org":          principal.Organization,
		"organization": principal.Organization,
		"clearance":    principal.Clearance,
	}

	res := map[string]any{}
	if resource != nil {
		res = map[string]any{
			"id":           resource.ID,
			"owner_id":     resource.OwnerID,
			"org":          resource.Organization,
			"organization": resource.Organization,
			"department":   resource.Department,
			"sensitivity":  resource.Sensitivity,
		}
	}

	when := reqCtx.Time
	if when.IsZero() {
		when = time.Now().UTC()
	}
	return map[string]any{
		"user":     user,
		"resource": res,
		"action":   action,
		"context": map[string]any{
			"ip":         reqCtx.IP,
			"method":     reqCtx.Method,
			"path":       reqCtx.Path,
			"user_agent": reqCtx.UserAgent,
			"time":       when.Format(time.RFC3339),
		},
	}
}
