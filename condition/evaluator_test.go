package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/variables"
)

func resolverWith(scope string, data map[string]interface{}) *variables.Resolver {
	r := variables.New()
	r.SetScope(scope, data, false)
	return r
}

func TestEvaluateExpressionForm(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{"x": "a"})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Expr: "temp.x == 'a'", Then: "O0"},
	}, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "O0", label)
}

func TestEvaluateTieBreakIsFirstMatch(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{"x": "a"})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Expr: "temp.x == 'a'", Then: "O0"},
		{Expr: "temp.x == 'a'", Then: "O1"},
	}, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "O0", label)
}

func TestEvaluateFallsBackToDefault(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{"x": "b"})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Expr: "temp.x == 'a'", Then: "O0"},
	}, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT", label)
}

func TestEvaluateStructuredForm(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{"count": float64(5)})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Var: "temp.count", Op: OpGte, Arg: float64(10), Then: "HIGH"},
		{Var: "temp.count", Op: OpGte, Arg: float64(1), Then: "LOW"},
	}, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "LOW", label)
}

func TestEvaluateNumericCoercion(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{"n": "10"})
	e := New(r)
	label, err := e.Evaluate([]Clause{
		{Expr: "temp.n > 5", Then: "YES"},
	}, "NO")
	require.NoError(t, err)
	assert.Equal(t, "YES", label)
}

func TestEvaluateUnresolvedComparesAbsent(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Expr: "temp.missing > 5", Then: "YES"},
	}, "NO")
	require.NoError(t, err)
	assert.Equal(t, "NO", label)

	label, err = e.Evaluate([]Clause{
		{Expr: "temp.missing != 5", Then: "YES"},
	}, "NO")
	require.NoError(t, err)
	assert.Equal(t, "YES", label)
}

func TestEvaluateInAndContains(t *testing.T) {
	r := resolverWith(variables.ScopeTemp, map[string]interface{}{
		"tags": []interface{}{"a", "b", "c"},
		"name": "hello world",
	})
	e := New(r)

	label, err := e.Evaluate([]Clause{
		{Var: "temp.tags", Op: OpIn, Arg: "z", Then: "NO"},
		{Var: "temp.name", Op: OpContains, Arg: "world", Then: "YES"},
	}, "DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, "YES", label)
}
