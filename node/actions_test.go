package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/flow"
	"flowrt.dev/session"
)

type publishedChecker struct{}

func (publishedChecker) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	return true, true, nil
}

func newTestSession(t *testing.T, repo *session.MemoryRepository, state map[string]interface{}) *session.Session {
	t.Helper()
	s, err := repo.CreateSession(context.Background(), "flow-1", "", state)
	require.NoError(t, err)
	return s
}

func TestExecuteActionsSetVariableDefaultScope(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	outcome, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpSetVariable, Variable: "name", Value: "ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ActionsExecuted)
	assert.Empty(t, outcome.ValidationErrors)

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.State["variables"].(map[string]interface{})["name"])
}

func TestExecuteActionsScopedVariable(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	_, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpSetVariable, Variable: "temp.counter", Value: 0.0},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.State["temp"].(map[string]interface{})["counter"])
}

func TestExecuteActionsSetVariableDeepDottedPathNests(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	_, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpSetVariable, Variable: "temp.counter.value", Value: 3.0},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	counter := got.State["temp"].(map[string]interface{})["counter"].(map[string]interface{})
	assert.Equal(t, 3.0, counter["value"])
}

func TestExecuteActionsIncrementSequential(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, map[string]interface{}{"temp": map[string]interface{}{"counter": 5.0}})
	p := NewProcessor(repo, nil)

	outcome, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpIncrement, Variable: "temp.counter"},
		{Type: OpIncrement, Variable: "temp.counter", Increment: 5.0},
	})
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, 6.0, outcome.Results[0].Result["new_value"])
	assert.Equal(t, 11.0, outcome.Results[1].Result["new_value"])

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 11.0, got.State["temp"].(map[string]interface{})["counter"])
}

func TestExecuteActionsAppendAndRemove(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	_, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpAppend, Variable: "temp.tags", Value: "a"},
	})
	require.NoError(t, err)
	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = p.ExecuteActions(context.Background(), s.ID, got.Revision, []flow.ActionOp{
		{Type: OpAppend, Variable: "temp.tags", Value: "b"},
	})
	require.NoError(t, err)
	got, err = repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, got.State["temp"].(map[string]interface{})["tags"])

	_, err = p.ExecuteActions(context.Background(), s.ID, got.Revision, []flow.ActionOp{
		{Type: OpRemove, Variable: "temp.tags", Value: "a"},
	})
	require.NoError(t, err)
	got, err = repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b"}, got.State["temp"].(map[string]interface{})["tags"])
}

func TestExecuteActionsClear(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, map[string]interface{}{"temp": map[string]interface{}{"x": 1.0}})
	p := NewProcessor(repo, nil)

	_, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpClear, Variable: "temp.x"},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.State["temp"].(map[string]interface{})["x"])
}

func TestExecuteActionsCalculate(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	outcome, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpCalculate, Expression: "(2 + 3) * 4", ResultVariable: "temp.total"},
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, outcome.Results[0].Result["calculation_result"])

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.State["temp"].(map[string]interface{})["total"])
}

func TestExecuteActionsValidationFailureAbortsBatch(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	outcome, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpSetVariable, Variable: "name", Value: "ada"},
		{Type: OpIncrement}, // missing variable
	})
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.ValidationErrors)
	assert.Equal(t, 0, outcome.ActionsExecuted)

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.State["variables"])
}
