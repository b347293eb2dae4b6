package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/engine"
	"flowrt.dev/flow"
	"flowrt.dev/node"
	"flowrt.dev/session"
)

type publishedChecker struct{}

func (publishedChecker) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	return true, true, nil
}

func pingFlow() *flow.FlowDefinition {
	return &flow.FlowDefinition{
		ID:          "ping",
		EntryNodeID: "ask",
		Published:   true,
		Nodes: []flow.Node{
			{NodeID: "ask", Type: flow.NodeQuestion, Question: &flow.QuestionContent{Prompt: "ping?", Variable: "temp.pong"}},
			{NodeID: "done", Type: flow.NodeMessage, Message: &flow.MessageContent{Messages: []string{"pong: {{temp.pong}}"}}},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "ask", TargetNodeID: "done", ConnectionType: flow.ConnDefault},
		},
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	repo := session.NewMemoryRepository(publishedChecker{})
	store := flow.NewMemoryStore()
	store.Put(pingFlow())
	proc := node.NewProcessor(repo, nil)
	eng := engine.New(store, repo, proc, nil)
	return New(store, repo, eng, nil)
}

func TestStartSessionPositionsAtEntryNodeAndStopsAtQuestion(t *testing.T) {
	o := newTestOrchestrator(t)

	result, err := o.StartSession(context.Background(), "ping", "")
	require.NoError(t, err)
	assert.Equal(t, "ask", result.Session.CurrentNodeID)
	require.NotNil(t, result.Turn.InputRequest)
	assert.Equal(t, "ping?", result.Turn.InputRequest.Prompt)
}

func TestInteractAdvancesSessionToCompletion(t *testing.T) {
	o := newTestOrchestrator(t)
	started, err := o.StartSession(context.Background(), "ping", "")
	require.NoError(t, err)

	turn, err := o.Interact(context.Background(), started.Session.ID, engine.UserInput{Type: session.InteractionInput, Value: "pong"})
	require.NoError(t, err)
	assert.True(t, turn.SessionEnded)
	assert.Equal(t, []string{"pong: pong"}, turn.Messages)
}

func TestEndSessionMarksAbandoned(t *testing.T) {
	o := newTestOrchestrator(t)
	started, err := o.StartSession(context.Background(), "ping", "")
	require.NoError(t, err)

	ended, err := o.EndSession(context.Background(), started.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAbandoned, ended.Status)
}

func TestGetSessionReturnsNotFoundForUnknownID(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.GetSession(context.Background(), "missing")
	assert.Error(t, err)
}
