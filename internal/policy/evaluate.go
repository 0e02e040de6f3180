package policy

import (
	"sort"

	"docvault.org/internal/obs"
)

// Decision is the output of one evaluation. PolicyID is nil when no
// rule matched (default deny). Attributes is the bag the rules were
// scored against, retained for audit only.
type Decision struct {
	Allowed    bool
	PolicyID   *int64
	Attributes map[string]any
}

// Evaluate scores policies against the attribute bag in ascending
// priority order. The first rule whose expression is true is terminal:
// a deny stops evaluation immediately regardless of any allow rules
// not yet reached, and so does an allow. A rule whose expression
// errors is treated as non-matching, so a broken expression can never
// become an accidental allow.
func Evaluate(policies []Policy, bag map[string]any) Decision {
	ordered := policies
	if !sort.SliceIsSorted(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority }) {
		ordered = make([]Policy, len(policies))
		copy(ordered, policies)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	}

	for i := range ordered {
		p := &ordered[i]
		matched, err := p.Expression.EvalBool(bag)
		if err != nil {
			obs.Logger().WithError(err).WithField("policy_id", p.ID).
				Warn("policy expression failed to evaluate, treating as non-match")
			continue
		}
		if !matched {
			continue
		}
		id := p.ID
		return Decision{
			Allowed:    p.Effect == EffectAllow,
			PolicyID:   &id,
			Attributes: bag,
		}
	}
	return Decision{Allowed: false, Attributes: bag}
}
