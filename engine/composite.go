package engine

import (
	"context"
	"fmt"

	"flowrt.dev/condition"
	"flowrt.dev/errs"
	"flowrt.dev/flow"
	"flowrt.dev/flowgraph"
	"flowrt.dev/node"
	"flowrt.dev/session"
	"flowrt.dev/variables"
)

// maxCompositeDepth bounds nested COMPOSITE expansion within one
// turn. flowgraph.ValidateComposites enforces the same bound (and
// rejects self-reference outright) at session-start time; this is the
// runtime backstop in case a flow was published before that check
// existed.
const maxCompositeDepth = flowgraph.MaxCompositeDepth

// runComposite expands a COMPOSITE node's child flow inline, within
// the same turn, rather than pushing a call frame the session would
// need to carry across turns. Because of that, a composite's child
// flow (transitively) may not contain a blocking node: QUESTION and
// SCRIPT are rejected with errs.FlowValidationError. ACTION and
// WEBHOOK children still write through to the real session, since
// their effects must survive the turn.
func (e *Engine) runComposite(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resp *TurnResponse) (stepOutcome, error) {
	return e.runCompositeDepth(ctx, sess, def, n, resp, 0)
}

func (e *Engine) runCompositeDepth(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resp *TurnResponse, depth int) (stepOutcome, error) {
	if depth >= maxCompositeDepth {
		return stepOutcome{}, errs.New(errs.FlowValidationError, fmt.Sprintf("composite %s: exceeded max nesting depth %d", n.NodeID, maxCompositeDepth))
	}

	child, err := e.Flows.GetByID(ctx, n.Composite.ChildFlowID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: load child flow %s: %w", n.Composite.ChildFlowID, err)
	}
	if child == nil {
		return stepOutcome{}, errs.New(errs.FlowNotFound, n.Composite.ChildFlowID)
	}

	inputScope := map[string]interface{}{}
	parentResolver := variables.NewSessionResolver(sess.State, nil)
	for parentRef, childPath := range n.Composite.InputMapping {
		val, err := parentResolver.ResolveString(parentRef)
		if err != nil {
			return stepOutcome{}, fmt.Errorf("engine: composite %s input mapping %q: %w", n.NodeID, parentRef, err)
		}
		_, path := splitScopePath(childPath)
		inputScope[path] = val
	}
	outputScope := map[string]interface{}{}

	nodeID := child.EntryNodeID
	for step := 0; ; step++ {
		if step >= maxTurnSteps {
			return stepOutcome{}, errs.New(errs.Fatal, fmt.Sprintf("composite %s: child flow %s exceeded %d steps", n.NodeID, child.ID, maxTurnSteps))
		}

		cn, ok := child.NodeByID(nodeID)
		if !ok {
			return stepOutcome{}, errs.New(errs.NodeNotFound, fmt.Sprintf("composite %s: child flow %s: node %s", n.NodeID, child.ID, nodeID))
		}

		composite := map[string]map[string]interface{}{
			variables.ScopeInput:  inputScope,
			variables.ScopeOutput: outputScope,
		}
		resolver := variables.NewSessionResolver(sess.State, composite)

		var next string
		var done bool
		switch cn.Type {
		case flow.NodeMessage:
			for _, m := range cn.Message.Messages {
				resp.Messages = append(resp.Messages, resolver.SubstituteVariables(m, true))
			}
			next, done = firstEdge(child, nodeID, flow.ConnDefault)

		case flow.NodeCondition:
			evaluator := condition.New(resolver)
			clauses := make([]condition.Clause, len(cn.Condition.Clauses))
			for i, c := range cn.Condition.Clauses {
				clauses[i] = condition.Clause{Expr: c.Expr, Var: c.Var, Op: condition.Op(c.Op), Arg: c.Arg, Then: c.Then}
			}
			label, err := evaluator.Evaluate(clauses, cn.Condition.DefaultPath)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("engine: composite %s evaluate condition at %s: %w", n.NodeID, cn.NodeID, err)
			}
			next, done = firstEdge(child, nodeID, flow.ConnectionType(label))

		case flow.NodeAction:
			outcome, err := e.Node.ExecuteActions(ctx, sess.ID, sess.Revision, cn.Action.Operations)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("engine: composite %s execute action %s: %w", n.NodeID, cn.NodeID, err)
			}
			succeeded := len(outcome.ValidationErrors) == 0
			for _, r := range outcome.Results {
				if r.Err != nil {
					succeeded = false
				}
			}
			reloaded, err := e.Sessions.GetByID(ctx, sess.ID)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("engine: composite %s reload after action %s: %w", n.NodeID, cn.NodeID, err)
			}
			sess = reloaded
			mergeScope(outputScope, sess.State[variables.ScopeOutput])
			edge := flow.ConnSuccess
			if !succeeded {
				edge = flow.ConnFailure
			}
			next, done = firstEdge(child, nodeID, edge, flow.ConnDefault)

		case flow.NodeWebhook:
			out, err := e.Node.ExecuteWebhook(ctx, sess.ID, sess.Revision, *cn.Webhook, resolver)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("engine: composite %s execute webhook %s: %w", n.NodeID, cn.NodeID, err)
			}
			reloaded, err := e.Sessions.GetByID(ctx, sess.ID)
			if err != nil {
				return stepOutcome{}, fmt.Errorf("engine: composite %s reload after webhook %s: %w", n.NodeID, cn.NodeID, err)
			}
			sess = reloaded
			mergeScope(outputScope, sess.State[variables.ScopeOutput])
			succeeded, _ := out["webhook_executed"].(bool)
			edge := flow.ConnSuccess
			if !succeeded {
				edge = flow.ConnFailure
			}
			next, done = firstEdge(child, nodeID, edge, flow.ConnDefault)

		case flow.NodeComposite:
			nested := flow.Node{NodeID: cn.NodeID, Type: flow.NodeComposite, Composite: cn.Composite}
			outcome, err := e.runCompositeDepth(ctx, sess, child, &nested, resp, depth+1)
			if err != nil {
				return stepOutcome{}, err
			}
			sess = outcome.session
			mergeScope(outputScope, sess.State[variables.ScopeOutput])
			if outcome.terminal {
				done = true
			} else {
				next, done = outcome.next, false
			}

		case flow.NodeQuestion, flow.NodeScript:
			return stepOutcome{}, errs.New(errs.FlowValidationError, fmt.Sprintf("composite %s: child flow %s contains a blocking node %s, not supported inside a composite", n.NodeID, child.ID, cn.NodeID))

		default:
			return stepOutcome{}, errs.New(errs.InvalidInput, fmt.Sprintf("unknown node type %q", cn.Type))
		}

		if !done {
			nodeID = next
			continue
		}
		break
	}

	update := map[string]interface{}{}
	for childPath, parentPath := range n.Composite.OutputMapping {
		_, path := splitScopePath(childPath)
		scope, ppath := splitScopePath(parentPath)
		value := node.NestedValue(outputScope, path)
		update = session.DeepMerge(update, map[string]interface{}{scope: node.NestedUpdate(ppath, value)})
	}

	if len(update) > 0 {
		updated, err := e.Sessions.UpdateState(ctx, sess.ID, "", update, sess.Revision)
		if err != nil {
			return stepOutcome{}, fmt.Errorf("engine: composite %s apply output mapping: %w", n.NodeID, err)
		}
		sess = updated
	}

	return e.advanceOrTerminal(sess, def, n.NodeID, flow.ConnDefault)
}

// firstEdge is child-flow-scoped EdgeTo: "done" is true when no edge
// with any of the given labels exists, meaning the child flow has
// reached one of its terminal nodes.
func firstEdge(child *flow.FlowDefinition, nodeID string, labels ...flow.ConnectionType) (next string, done bool) {
	for _, label := range labels {
		if n, ok := child.EdgeTo(nodeID, label); ok {
			return n, false
		}
	}
	return "", true
}

// mergeScope copies a real session scope (e.g. the "output" map an
// ACTION/WEBHOOK just wrote through to) into a composite's local
// overlay, so both the resolver and the final output_mapping step see
// what the child flow produced rather than an empty map.
func mergeScope(overlay map[string]interface{}, real interface{}) {
	m, ok := real.(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range m {
		overlay[k] = v
	}
}

// splitScopePath splits "scope.path" into (scope, path); a mapping
// entry with no dot is treated as a bare path with an empty scope.
// For an output_mapping parent path, that empty scope becomes an
// empty top-level key in the session state update.
func splitScopePath(ref string) (scope, path string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}
