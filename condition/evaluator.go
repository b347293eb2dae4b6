// Package condition implements the flow runtime's condition
// evaluator (spec component C2): given an ordered list of clauses and
// a variable resolver, it picks the first clause whose comparison is
// true and returns the outgoing-edge label it names, falling back to
// a configured default.
//
// There is no dedicated condition evaluator in the Python original;
// this package follows the teacher's general "evaluate a list,
// return the first match" shape (graph/dag.go's execution-order walk)
// applied to spec §4.2's two clause shapes.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"flowrt.dev/variables"
)

// Op is a structured-form comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// exprOps maps the expression-form symbolic operators to the
// structured-form Op they're equivalent to.
var exprOps = map[string]Op{
	"==": OpEq,
	"!=": OpNe,
	">":  OpGt,
	"<":  OpLt,
	">=": OpGte,
	"<=": OpLte,
}

// Clause is one entry of a CONDITION node's clause list. Exactly one
// of Expr or (Var, Op) is populated depending on which form the node
// author used.
type Clause struct {
	// Expression form: "dotted.path OP literal".
	Expr string

	// Structured form.
	Var  string
	Op   Op
	Arg  interface{}

	Then string // outgoing-edge label
}

// Evaluator evaluates an ordered clause list against a resolver.
type Evaluator struct {
	Resolver *variables.Resolver
}

// New builds an Evaluator bound to resolver.
func New(resolver *variables.Resolver) *Evaluator {
	return &Evaluator{Resolver: resolver}
}

// Evaluate walks clauses in order and returns the Then label of the
// first clause whose comparison is true; if none match, defaultPath
// is returned. Evaluation is deterministic and side-effect-free: the
// first match wins, never "most specific".
func (e *Evaluator) Evaluate(clauses []Clause, defaultPath string) (string, error) {
	for _, c := range clauses {
		matched, err := e.evaluateClause(c)
		if err != nil {
			return "", err
		}
		if matched {
			return c.Then, nil
		}
	}
	return defaultPath, nil
}

func (e *Evaluator) evaluateClause(c Clause) (bool, error) {
	if c.Expr != "" {
		path, op, literal, err := parseExpr(c.Expr)
		if err != nil {
			return false, err
		}
		left, err := e.resolvePath(path)
		if err != nil {
			return false, err
		}
		return compare(left, op, literal), nil
	}

	left, err := e.resolvePath(c.Var)
	if err != nil {
		return false, err
	}
	return compare(left, c.Op, c.Arg), nil
}

// resolvePath resolves a "scope.path" reference used on the left side
// of a clause. Paths without a scope prefix resolve to absent (nil),
// matching the resolver's closed scope contract.
func (e *Evaluator) resolvePath(path string) (interface{}, error) {
	scope, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, nil
	}
	ref := variables.Reference{Scope: scope, Path: rest, FullPath: path}
	v, err := e.Resolver.Resolve(ref)
	if err != nil {
		return nil, nil
	}
	return v, nil
}

// parseExpr splits "dotted.path OP literal" into its three parts. The
// parser tolerates single- or double-quoted string literals.
func parseExpr(expr string) (path string, op Op, literal interface{}, err error) {
	expr = strings.TrimSpace(expr)
	// Try two-char operators first so ">="/"<=" aren't truncated by
	// the single-char ">"/"<" search below.
	for _, sym := range []string{"==", "!=", ">=", "<="} {
		if idx := strings.Index(expr, sym); idx >= 0 {
			return finishExpr(expr, idx, len(sym), exprOps[sym])
		}
	}
	for _, sym := range []string{">", "<"} {
		if idx := strings.Index(expr, sym); idx >= 0 {
			return finishExpr(expr, idx, len(sym), exprOps[sym])
		}
	}
	return "", "", nil, fmt.Errorf("condition: malformed expression %q", expr)
}

func finishExpr(expr string, idx, symLen int, op Op) (string, Op, interface{}, error) {
	path := strings.TrimSpace(expr[:idx])
	rhs := strings.TrimSpace(expr[idx+symLen:])
	return path, op, parseLiteral(rhs), nil
}

// parseLiteral interprets the right-hand side of an expression-form
// clause as a bool, number, or (possibly quoted) string.
func parseLiteral(raw string) interface{} {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// compare implements the numeric-coercion-first comparison rule: if
// both sides parse as numbers, compare numerically; otherwise fall
// back to string equality/lexicographic order. An unresolved (nil)
// left side compares as absent: != is true against any non-nil
// literal, == is true only against a nil literal, and all ordering
// comparisons and in/contains are false.
func compare(left interface{}, op Op, right interface{}) bool {
	if left == nil {
		switch op {
		case OpNe:
			return right != nil
		case OpEq:
			return right == nil
		default:
			return false
		}
	}

	if ln, lok := asNumber(left); lok {
		if rn, rok := asNumber(right); rok {
			switch op {
			case OpEq:
				return ln == rn
			case OpNe:
				return ln != rn
			case OpGt:
				return ln > rn
			case OpLt:
				return ln < rn
			case OpGte:
				return ln >= rn
			case OpLte:
				return ln <= rn
			}
		}
	}

	ls := fmt.Sprint(left)
	switch op {
	case OpEq:
		return ls == fmt.Sprint(right)
	case OpNe:
		return ls != fmt.Sprint(right)
	case OpGt:
		return ls > fmt.Sprint(right)
	case OpLt:
		return ls < fmt.Sprint(right)
	case OpGte:
		return ls >= fmt.Sprint(right)
	case OpLte:
		return ls <= fmt.Sprint(right)
	case OpIn:
		return containsIn(right, left)
	case OpContains:
		return containsIn(left, right)
	}
	return false
}

// containsIn reports whether needle appears in haystack, where
// haystack is a []interface{} (element equality) or a string
// (substring match).
func containsIn(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case []interface{}:
		ns := fmt.Sprint(needle)
		for _, item := range h {
			if fmt.Sprint(item) == ns {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(h, fmt.Sprint(needle))
	default:
		return false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
