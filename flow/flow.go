// Package flow holds the static data model authored flows are made
// of: FlowDefinition, its Nodes (a tagged union over seven node
// types), and the Connections between them. This is the Go-native
// shape of spec §3's DATA MODEL and §9's "tagged variants replace
// per-node dynamic dispatch" design note — a Node carries exactly one
// populated *Content field instead of participating in an inheritance
// hierarchy, the way the teacher's workflow package keeps a flat
// Action struct rather than per-type subclasses.
package flow

import "fmt"

// NodeType is the closed set of node kinds a flow graph can contain.
type NodeType string

const (
	NodeMessage   NodeType = "MESSAGE"
	NodeQuestion  NodeType = "QUESTION"
	NodeCondition NodeType = "CONDITION"
	NodeAction    NodeType = "ACTION"
	NodeWebhook   NodeType = "WEBHOOK"
	NodeComposite NodeType = "COMPOSITE"
	NodeScript    NodeType = "SCRIPT"
)

// ConnectionType labels an outgoing edge. OPTION_N labels are
// represented as "option_0", "option_1", ... matching the runtime
// edge-selection rule in spec §4.3.2.
type ConnectionType string

const (
	ConnDefault ConnectionType = "DEFAULT"
	ConnSuccess ConnectionType = "SUCCESS"
	ConnFailure ConnectionType = "FAILURE"
)

// Connection is a directed edge between two nodes in the same flow.
type Connection struct {
	ID             int64          `json:"id,omitempty"`
	SourceNodeID   string         `json:"source_node_id"`
	TargetNodeID   string         `json:"target_node_id"`
	ConnectionType ConnectionType `json:"connection_type"`
	// Conditions is an optional edge-level predicate payload, rarely
	// used; node-level CONDITION content is the primary branching
	// mechanism.
	Conditions map[string]interface{} `json:"conditions,omitempty"`
}

// MessageContent is a MESSAGE node's payload: one or more template
// strings interpolated and appended to the turn response.
type MessageContent struct {
	Messages []string `json:"messages"`
}

// QuestionOption is one selectable answer to a QUESTION node.
type QuestionOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// QuestionContent is a QUESTION node's payload: the blocking prompt,
// where the answer is recorded, and the options offered (if any —
// free-text questions have no options).
type QuestionContent struct {
	Prompt   string           `json:"prompt"`
	Variable string           `json:"variable"` // dotted path, defaults to scope "variables"
	Options  []QuestionOption `json:"options,omitempty"`
}

// ConditionContent is a CONDITION node's payload: an ordered clause
// list evaluated by the condition package, plus the default edge
// label taken when no clause matches.
type ConditionContent struct {
	Clauses     []ConditionClause `json:"clauses"`
	DefaultPath string            `json:"default_path"`
}

// ConditionClause mirrors condition.Clause in a JSON-friendly shape;
// the engine converts one to the other at evaluation time. Exactly
// one of Expr or Var is populated.
type ConditionClause struct {
	Expr string      `json:"if,omitempty"`
	Var  string      `json:"var,omitempty"`
	Op   string      `json:"op,omitempty"`
	Arg  interface{} `json:"arg,omitempty"`
	Then string      `json:"then"`
}

// ActionOp is one operation in an ACTION node's op list, matching
// spec §4.7's table.
type ActionOp struct {
	Type           string      `json:"type"` // set_variable, increment, append, remove, clear, calculate, api_call
	Variable       string      `json:"variable,omitempty"`
	Value          interface{} `json:"value,omitempty"`
	Increment      interface{} `json:"increment,omitempty"`
	Expression     string      `json:"expression,omitempty"`
	ResultVariable string      `json:"result_variable,omitempty"`
	URL            string      `json:"url,omitempty"`
	Method         string      `json:"method,omitempty"`
	Headers        map[string]interface{} `json:"headers,omitempty"`
	Payload        interface{} `json:"payload,omitempty"`
	StoreResponse  bool        `json:"store_response,omitempty"`
	ResponseKey    string      `json:"response_key,omitempty"`
}

// ActionContent is an ACTION node's payload: a sequential op list.
type ActionContent struct {
	Operations []ActionOp `json:"operations"`
}

// WebhookContent is a WEBHOOK node's payload: a single HTTP call
// description, resolved through the variable resolver before
// dispatch.
type WebhookContent struct {
	URL           string                 `json:"url"`
	Method        string                 `json:"method"`
	Headers       map[string]interface{} `json:"headers,omitempty"`
	Payload       interface{}            `json:"payload,omitempty"`
	TimeoutSecs   int                    `json:"timeout_seconds,omitempty"`
	StoreResponse bool                   `json:"store_response,omitempty"`
	ResponseKey   string                 `json:"response_key,omitempty"`
}

// CompositeContent is a COMPOSITE node's payload: a reference to a
// child flow plus the input/output scope mappings described in spec
// §4.3.3.
type CompositeContent struct {
	ChildFlowID    string            `json:"child_flow_id"`
	InputMapping   map[string]string `json:"input_mapping,omitempty"`  // parent path -> child input.path
	OutputMapping  map[string]string `json:"output_mapping,omitempty"` // child output.path -> parent path
}

// ScriptContent is a SCRIPT node's payload: an opaque script body
// returned to the client for client-side execution. The runtime never
// evaluates it.
type ScriptContent struct {
	Language string      `json:"language"`
	Body     string      `json:"body"`
	Payload  interface{} `json:"payload,omitempty"`
}

// Node is a tagged union over the seven node types. Exactly one of
// the Content fields is populated, matching Type.
type Node struct {
	ID     int64    `json:"id,omitempty"`
	NodeID string   `json:"node_id"`
	FlowID string   `json:"flow_id,omitempty"`
	Type   NodeType `json:"type"`

	Message   *MessageContent   `json:"message,omitempty"`
	Question  *QuestionContent  `json:"question,omitempty"`
	Condition *ConditionContent `json:"condition,omitempty"`
	Action    *ActionContent    `json:"action,omitempty"`
	Webhook   *WebhookContent   `json:"webhook,omitempty"`
	Composite *CompositeContent `json:"composite,omitempty"`
	Script    *ScriptContent    `json:"script,omitempty"`
}

// FlowDefinition is an authored flow graph: nodes, connections, and
// the entry point sessions begin at.
type FlowDefinition struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Version     string       `json:"version,omitempty"`
	Published   bool         `json:"published,omitempty"`
	EntryNodeID string       `json:"entry_node_id"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeByID returns the node with the given node_id, or false if none
// exists.
func (f *FlowDefinition) NodeByID(nodeID string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].NodeID == nodeID {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// OutgoingConnections returns every connection whose source is
// nodeID, in declaration order.
func (f *FlowDefinition) OutgoingConnections(nodeID string) []Connection {
	var out []Connection
	for _, c := range f.Connections {
		if c.SourceNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// EdgeTo follows the connection out of nodeID labeled connType,
// returning the target node id. Returns false if no such edge exists.
func (f *FlowDefinition) EdgeTo(nodeID string, connType ConnectionType) (string, bool) {
	for _, c := range f.Connections {
		if c.SourceNodeID == nodeID && c.ConnectionType == connType {
			return c.TargetNodeID, true
		}
	}
	return "", false
}

// Validate checks the invariants spec §3 names: entry_node_id
// resolves, every connection's endpoints resolve, and node ids are
// unique within the flow.
func (f *FlowDefinition) Validate() error {
	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.NodeID == "" {
			return fmt.Errorf("flow %s: node with empty node_id", f.ID)
		}
		if seen[n.NodeID] {
			return fmt.Errorf("flow %s: duplicate node_id %q", f.ID, n.NodeID)
		}
		seen[n.NodeID] = true
	}
	if f.EntryNodeID == "" || !seen[f.EntryNodeID] {
		return fmt.Errorf("flow %s: entry_node_id %q does not resolve to a node", f.ID, f.EntryNodeID)
	}
	for _, c := range f.Connections {
		if !seen[c.SourceNodeID] {
			return fmt.Errorf("flow %s: connection source %q does not resolve to a node", f.ID, c.SourceNodeID)
		}
		if !seen[c.TargetNodeID] {
			return fmt.Errorf("flow %s: connection target %q does not resolve to a node", f.ID, c.TargetNodeID)
		}
	}
	return nil
}
