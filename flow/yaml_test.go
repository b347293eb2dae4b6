package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
id: greeting
name: Greeting Flow
version: "1"
entry_node_id: welcome
nodes:
  - node_id: welcome
    type: MESSAGE
    message:
      messages:
        - "hello {{user.name}}"
  - node_id: ask
    type: QUESTION
    question:
      prompt: "how are you?"
      variable: temp.mood
connections:
  - source_node_id: welcome
    target_node_id: ask
    connection_type: DEFAULT
`

func TestLoadYAMLDecodesFlowDefinition(t *testing.T) {
	def, err := LoadYAML([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "greeting", def.ID)
	assert.Equal(t, "welcome", def.EntryNodeID)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, NodeMessage, def.Nodes[0].Type)
	require.NotNil(t, def.Nodes[0].Message)
	assert.Equal(t, []string{"hello {{user.name}}"}, def.Nodes[0].Message.Messages)
	require.Len(t, def.Connections, 1)
	assert.Equal(t, ConnDefault, def.Connections[0].ConnectionType)
}

func TestLoadYAMLRejectsInvalidYAML(t *testing.T) {
	_, err := LoadYAML([]byte("not: [valid"))
	assert.Error(t, err)
}
