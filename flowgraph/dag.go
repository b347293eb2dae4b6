// Package flowgraph builds an adjacency view of a flow (Build, which
// the orchestrator runs to validate a flow before starting a session;
// the engine itself follows edges through FlowDefinition.EdgeTo) and
// validates composite-node references: depth is bounded and
// self-referential composites are rejected before they can exhaust
// the stack.
//
// The cycle-detection shape (DFS + recursion stack) is grounded on the
// teacher's graph/dag.go (ValidateDAG/checkCycleRecursive),
// adapted from a dependency DAG of scheduled actions to a composite
// reference graph of flow ids.
package flowgraph

import (
	"fmt"

	"flowrt.dev/flow"
)

// MaxCompositeDepth bounds how many COMPOSITE nodes may be nested
// before the engine refuses to expand further, per spec §4.3.3.
const MaxCompositeDepth = 16

// FlowLookup resolves a flow id to its definition, the way the engine
// loads child flows referenced by a COMPOSITE node.
type FlowLookup func(flowID string) (*flow.FlowDefinition, error)

// Graph is the adjacency view of a single flow: for each
// node id, its outgoing connections grouped by connection type.
type Graph struct {
	def   *flow.FlowDefinition
	edges map[string][]flow.Connection
}

// Build constructs a Graph from a validated FlowDefinition.
func Build(def *flow.FlowDefinition) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	edges := make(map[string][]flow.Connection, len(def.Nodes))
	for _, c := range def.Connections {
		edges[c.SourceNodeID] = append(edges[c.SourceNodeID], c)
	}
	return &Graph{def: def, edges: edges}, nil
}

// Node returns the node with the given node_id.
func (g *Graph) Node(nodeID string) (*flow.Node, bool) {
	return g.def.NodeByID(nodeID)
}

// Entry returns the flow's entry node id.
func (g *Graph) Entry() string {
	return g.def.EntryNodeID
}

// Edge follows the labeled outgoing connection from nodeID.
func (g *Graph) Edge(nodeID string, connType flow.ConnectionType) (string, bool) {
	for _, c := range g.edges[nodeID] {
		if c.ConnectionType == connType {
			return c.TargetNodeID, true
		}
	}
	return "", false
}

// ValidateComposites walks every COMPOSITE node in def, resolving
// child flows through lookup and rejecting self-reference or depth
// beyond MaxCompositeDepth. Child flows are resolved lazily by id,
// never by back-pointer, so a cycle across flow boundaries is caught
// here rather than causing unbounded recursion at turn time.
func ValidateComposites(def *flow.FlowDefinition, lookup FlowLookup) error {
	for _, n := range def.Nodes {
		if n.Type != flow.NodeComposite || n.Composite == nil {
			continue
		}
		visited := map[string]bool{def.ID: true}
		if err := checkCompositeCycle(def.ID, n.Composite.ChildFlowID, lookup, visited, 1); err != nil {
			return fmt.Errorf("flow %s node %s: %w", def.ID, n.NodeID, err)
		}
	}
	return nil
}

func checkCompositeCycle(parentID, childID string, lookup FlowLookup, visited map[string]bool, depth int) error {
	if childID == parentID {
		return fmt.Errorf("self-referential composite: flow %s embeds itself", parentID)
	}
	if depth > MaxCompositeDepth {
		return fmt.Errorf("composite depth exceeds %d", MaxCompositeDepth)
	}
	if visited[childID] {
		return fmt.Errorf("circular composite reference detected at flow %s", childID)
	}
	visited[childID] = true

	child, err := lookup(childID)
	if err != nil {
		return fmt.Errorf("resolving child flow %s: %w", childID, err)
	}

	for _, n := range child.Nodes {
		if n.Type != flow.NodeComposite || n.Composite == nil {
			continue
		}
		if err := checkCompositeCycle(childID, n.Composite.ChildFlowID, lookup, visited, depth+1); err != nil {
			return err
		}
	}
	delete(visited, childID)
	return nil
}
