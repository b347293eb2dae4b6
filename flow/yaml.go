package flow

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a flow definition authored as YAML, the format the
// teacher's config loader treats as a first-class input alongside
// JSON. YAML has no native notion of this package's tagged-union Node
// shape, so decoding goes through a JSON-shaped intermediate value
// rather than duplicating FlowDefinition's field tags a second time.
func LoadYAML(data []byte) (*FlowDefinition, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("flow: decode yaml: %w", err)
	}

	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("flow: normalize yaml: %w", err)
	}

	var def FlowDefinition
	if err := json.Unmarshal(jsonBytes, &def); err != nil {
		return nil, fmt.Errorf("flow: decode flow definition: %w", err)
	}
	return &def, nil
}
