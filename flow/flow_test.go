package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFlow() *FlowDefinition {
	return &FlowDefinition{
		ID:          "f1",
		EntryNodeID: "start",
		Nodes: []Node{
			{NodeID: "start", Type: NodeMessage, Message: &MessageContent{Messages: []string{"hi"}}},
			{NodeID: "end", Type: NodeMessage, Message: &MessageContent{Messages: []string{"bye"}}},
		},
		Connections: []Connection{
			{SourceNodeID: "start", TargetNodeID: "end", ConnectionType: ConnDefault},
		},
	}
}

func TestValidateAcceptsWellFormedFlow(t *testing.T) {
	require.NoError(t, sampleFlow().Validate())
}

func TestValidateRejectsUnknownEntryNode(t *testing.T) {
	f := sampleFlow()
	f.EntryNodeID = "missing"
	assert.Error(t, f.Validate())
}

func TestValidateRejectsDanglingConnection(t *testing.T) {
	f := sampleFlow()
	f.Connections = append(f.Connections, Connection{SourceNodeID: "start", TargetNodeID: "ghost", ConnectionType: ConnSuccess})
	assert.Error(t, f.Validate())
}

func TestValidateRejectsDuplicateNodeID(t *testing.T) {
	f := sampleFlow()
	f.Nodes = append(f.Nodes, Node{NodeID: "start", Type: NodeMessage})
	assert.Error(t, f.Validate())
}

func TestEdgeToFindsLabeledConnection(t *testing.T) {
	f := sampleFlow()
	target, ok := f.EdgeTo("start", ConnDefault)
	require.True(t, ok)
	assert.Equal(t, "end", target)

	_, ok = f.EdgeTo("start", ConnSuccess)
	assert.False(t, ok)
}
