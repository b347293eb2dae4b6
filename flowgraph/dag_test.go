package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/flow"
)

func flowWithComposite(id, childID string) *flow.FlowDefinition {
	return &flow.FlowDefinition{
		ID:          id,
		EntryNodeID: "start",
		Nodes: []flow.Node{
			{NodeID: "start", Type: flow.NodeComposite, Composite: &flow.CompositeContent{ChildFlowID: childID}},
		},
	}
}

func TestValidateCompositesRejectsSelfReference(t *testing.T) {
	def := flowWithComposite("A", "A")
	lookup := func(id string) (*flow.FlowDefinition, error) { return def, nil }
	err := ValidateComposites(def, lookup)
	assert.Error(t, err)
}

func TestValidateCompositesRejectsCycle(t *testing.T) {
	a := flowWithComposite("A", "B")
	b := flowWithComposite("B", "A")
	flows := map[string]*flow.FlowDefinition{"A": a, "B": b}
	lookup := func(id string) (*flow.FlowDefinition, error) { return flows[id], nil }

	err := ValidateComposites(a, lookup)
	assert.Error(t, err)
}

func TestValidateCompositesAcceptsAcyclicChain(t *testing.T) {
	a := flowWithComposite("A", "B")
	b := &flow.FlowDefinition{
		ID:          "B",
		EntryNodeID: "start",
		Nodes: []flow.Node{
			{NodeID: "start", Type: flow.NodeMessage, Message: &flow.MessageContent{Messages: []string{"hi"}}},
		},
	}
	flows := map[string]*flow.FlowDefinition{"A": a, "B": b}
	lookup := func(id string) (*flow.FlowDefinition, error) { return flows[id], nil }

	require.NoError(t, ValidateComposites(a, lookup))
}

func TestBuildFollowsLabeledEdge(t *testing.T) {
	def := &flow.FlowDefinition{
		ID:          "A",
		EntryNodeID: "start",
		Nodes: []flow.Node{
			{NodeID: "start", Type: flow.NodeMessage, Message: &flow.MessageContent{Messages: []string{"hi"}}},
			{NodeID: "end", Type: flow.NodeMessage, Message: &flow.MessageContent{Messages: []string{"bye"}}},
		},
		Connections: []flow.Connection{
			{SourceNodeID: "start", TargetNodeID: "end", ConnectionType: flow.ConnDefault},
		},
	}
	g, err := Build(def)
	require.NoError(t, err)

	target, ok := g.Edge("start", flow.ConnDefault)
	require.True(t, ok)
	assert.Equal(t, "end", target)
}
