package policy

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Expr is a boolean rule expression over the attribute bag, stored in
// the database as a JSON document in the json-logic style the platform
// has always used, e.g.
//
//	{"==": [{"var": "user.org"}, {"var": "resource.org"}]}
//	{"and": [{"==": [{"var": "action"}, "read"]},
//	         {"<=": [{"var": "resource.sensitivity"}, 2]}]}
//
// The document is decoded into a tagged-variant tree and walked by a
// small interpreter; rule data is never executed as code.
type Expr struct {
	op   string
	args []Expr
	path string // op == opVar
	lit  any    // op == opLit
}

const (
	opLit = "lit"
	opVar = "var"
	opAnd = "and"
	opOr  = "or"
	opNot = "not"
	opEq  = "=="
	opNeq = "!="
	opLt  = "<"
	opLte = "<="
	opGt  = ">"
	opGte = ">="
	opIn  = "in"
)

// Constructors used by tests and seed tooling.

// Lit wraps a literal value.
func Lit(v any) Expr { return Expr{op: opLit, lit: v} }

// Var references an attribute by dot-separated path, e.g. "user.org".
func Var(path string) Expr { return Expr{op: opVar, path: path} }

// Cmp builds a comparison node. op is one of == != < <= > >= in.
func Cmp(op string, left, right Expr) Expr {
	return Expr{op: op, args: []Expr{left, right}}
}

// And is true when every argument is truthy.
func And(args ...Expr) Expr { return Expr{op: opAnd, args: args} }

// Or is true when any argument is truthy.
func Or(args ...Expr) Expr { return Expr{op: opOr, args: args} }

// Not negates its argument's truthiness.
func Not(arg Expr) Expr { return Expr{op: opNot, args: []Expr{arg}} }

// UnmarshalJSON decodes the stored document form. Literals stay
// literals; {"var": "path"} becomes an attribute reference; an object
// with a single operator key becomes the matching node.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := decodeNode(raw)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

func decodeNode(raw any) (Expr, error) {
	switch v := raw.(type) {
	case nil, bool, float64, string:
		return Lit(v), nil
	case []any:
		// A bare array is a literal list (the right side of "in").
		return Lit(v), nil
	case map[string]any:
		if len(v) != 1 {
			return Expr{}, fmt.Errorf("policy: expression node must have exactly one operator, got %d", len(v))
		}
		for op, operand := range v {
			return decodeOp(op, operand)
		}
	}
	return Expr{}, fmt.Errorf("policy: unsupported expression node %T", raw)
}

func decodeOp(op string, operand any) (Expr, error) {
	switch op {
	case opVar:
		switch p := operand.(type) {
		case string:
			return Var(p), nil
		case []any:
			if len(p) >= 1 {
				if s, ok := p[0].(string); ok {
					return Var(s), nil
				}
			}
		}
		return Expr{}, fmt.Errorf("policy: var operand must be a path string")
	case opAnd, opOr:
		operands, ok := operand.([]any)
		if !ok || len(operands) == 0 {
			return Expr{}, fmt.Errorf("policy: %s needs a non-empty argument list", op)
		}
		args := make([]Expr, 0, len(operands))
		for _, o := range operands {
			arg, err := decodeNode(o)
			if err != nil {
				return Expr{}, err
			}
			args = append(args, arg)
		}
		return Expr{op: op, args: args}, nil
	case "!", opNot:
		// json-logic writes negation as "!" with a single operand or a
		// one-element list.
		if list, ok := operand.([]any); ok {
			if len(list) != 1 {
				return Expr{}, fmt.Errorf("policy: ! takes exactly one argument")
			}
			operand = list[0]
		}
		arg, err := decodeNode(operand)
		if err != nil {
			return Expr{}, err
		}
		return Not(arg), nil
	case opEq, opNeq, opLt, opLte, opGt, opGte, opIn:
		operands, ok := operand.([]any)
		if !ok || len(operands) != 2 {
			return Expr{}, fmt.Errorf("policy: %s takes exactly two arguments", op)
		}
		left, err := decodeNode(operands[0])
		if err != nil {
			return Expr{}, err
		}
		right, err := decodeNode(operands[1])
		if err != nil {
			return Expr{}, err
		}
		return Cmp(op, left, right), nil
	default:
		return Expr{}, fmt.Errorf("policy: unknown operator %q", op)
	}
}

// EvalBool evaluates the expression against the attribute bag and
// reduces the result to a boolean. A nil expression is an error, not a
// match: a policy whose document failed to decode must never allow.
func (e *Expr) EvalBool(bag map[string]any) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("policy: expression is not decodable")
	}
	v, err := e.eval(bag)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (e *Expr) eval(bag map[string]any) (any, error) {
	switch e.op {
	case opLit:
		return e.lit, nil
	case opVar:
		return lookupPath(bag, e.path), nil
	case opAnd:
		for i := range e.args {
			v, err := e.args[i].eval(bag)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case opOr:
		for i := range e.args {
			v, err := e.args[i].eval(bag)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return true, nil
			}
		}
		return false, nil
	case opNot:
		v, err := e.args[0].eval(bag)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case opEq, opNeq, opLt, opLte, opGt, opGte, opIn:
		left, err := e.args[0].eval(bag)
		if err != nil {
			return nil, err
		}
		right, err := e.args[1].eval(bag)
		if err != nil {
			return nil, err
		}
		return compare(e.op, left, right)
	default:
		return nil, fmt.Errorf("policy: unknown operator %q", e.op)
	}
}

func compare(op string, left, right any) (any, error) {
	switch op {
	case opEq:
		return looseEqual(left, right), nil
	case opNeq:
		return !looseEqual(left, right), nil
	case opIn:
		return contains(left, right)
	}

	// Ordered comparisons: numbers first, lexicographic for strings.
	if lf, lok := toFloat(left); lok {
		rf, rok := toFloat(right)
		if !rok {
			return nil, fmt.Errorf("policy: cannot compare %T with %T", left, right)
		}
		switch op {
		case opLt:
			return lf < rf, nil
		case opLte:
			return lf <= rf, nil
		case opGt:
			return lf > rf, nil
		case opGte:
			return lf >= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case opLt:
			return ls < rs, nil
		case opLte:
			return ls <= rs, nil
		case opGt:
			return ls > rs, nil
		case opGte:
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("policy: cannot order %T against %T", left, right)
}

func contains(needle, haystack any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("policy: in expects a string needle for string haystack, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("policy: in expects a list or string haystack, got %T", haystack)
	}
}

// looseEqual mirrors the loose equality of the stored document
// dialect: numeric kinds compare by value, everything else by deep
// equality.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// lookupPath walks dot-separated segments through nested maps. A
// missing attribute yields nil, which no comparison treats as a match
// except an explicit equality against nil.
func lookupPath(bag map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var current any = bag
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}
