package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeExpr(t *testing.T, doc string) *Expr {
	t.Helper()
	var e Expr
	require.NoError(t, json.Unmarshal([]byte(doc), &e))
	return &e
}

func sampleBag() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":         float64(42),
			"org":        "org-7",
			"department": "physics",
			"roles":      []any{"user", "reviewer"},
			"clearance":  float64(2),
		},
		"resource": map[string]any{
			"id":          float64(9),
			"owner_id":    float64(42),
			"org":         "org-7",
			"sensitivity": float64(1),
		},
		"action":  "read",
		"context": map[string]any{"ip": "10.0.0.1"},
	}
}

func TestExprDecodeAndEval(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want bool
	}{
		{"literal true", `true`, true},
		{"literal zero", `0`, false},
		{"tautology", `{"==": [1, 1]}`, true},
		{"org match", `{"==": [{"var": "user.org"}, {"var": "resource.org"}]}`, true},
		{"org mismatch", `{"==": [{"var": "user.org"}, "org-9"]}`, false},
		{"owner match", `{"==": [{"var": "user.id"}, {"var": "resource.owner_id"}]}`, true},
		{"numeric lte", `{"<=": [{"var": "resource.sensitivity"}, 2]}`, true},
		{"numeric gt", `{">": [{"var": "user.clearance"}, 5]}`, false},
		{"role membership", `{"in": ["reviewer", {"var": "user.roles"}]}`, true},
		{"substring", `{"in": ["phys", {"var": "user.department"}]}`, true},
		{"negation", `{"!": [{"==": [{"var": "action"}, "delete"]}]}`, true},
		{"conjunction", `{"and": [{"==": [{"var": "action"}, "read"]}, {"==": [{"var": "user.org"}, {"var": "resource.org"}]}]}`, true},
		{"disjunction", `{"or": [{"==": [{"var": "action"}, "delete"]}, {"==": [{"var": "user.org"}, "org-7"]}]}`, true},
		{"missing attribute is not a match", `{"==": [{"var": "user.entity_id"}, 42]}`, false},
		{"nested missing path", `{"==": [{"var": "resource.owner.group"}, "x"]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeExpr(t, tc.doc).EvalBool(sampleBag())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExprVarListForm(t *testing.T) {
	// json-logic also writes {"var": ["path"]}.
	got, err := decodeExpr(t, `{"==": [{"var": ["user.org"]}, "org-7"]}`).EvalBool(sampleBag())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExprDecodeErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown operator": `{"matches": ["a", "b"]}`,
		"wrong arity":      `{"==": [1]}`,
		"empty and":        `{"and": []}`,
		"multi-key node":   `{"==": [1, 1], "!=": [1, 2]}`,
		"bad var operand":  `{"var": 7}`,
	} {
		t.Run(name, func(t *testing.T) {
			var e Expr
			assert.Error(t, json.Unmarshal([]byte(doc), &e))
		})
	}
}

func TestExprEvalErrors(t *testing.T) {
	// Ordering a string against a number cannot be answered; the
	// evaluator reports the error so the rule becomes a non-match.
	e := Cmp("<", Var("user.org"), Lit(float64(3)))
	_, err := e.EvalBool(sampleBag())
	assert.Error(t, err)

	// A nil expression (undecodable document) is an error as well.
	var nilExpr *Expr
	_, err = nilExpr.EvalBool(sampleBag())
	assert.Error(t, err)
}
