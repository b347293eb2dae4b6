// Package engine is the C7 Flow Execution Engine: the turn loop that
// advances a session from its current waiting node through zero or
// more non-interactive nodes until it reaches the next blocking node
// (QUESTION, SCRIPT) or a terminal state, assembling a turn response
// as it goes (spec §4.3).
//
// There is no single flow_execution_engine.py file in the Python
// original (it was not retrieved), so this package follows spec §4.3
// directly, built in the style already established by the
// condition/node/session packages it composes: small structs wrapping
// their collaborators, explicit context.Context threading, errs.Kind
// for domain failures.
package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"flowrt.dev/condition"
	"flowrt.dev/errs"
	"flowrt.dev/flow"
	"flowrt.dev/node"
	"flowrt.dev/session"
	"flowrt.dev/variables"
)

// maxTurnSteps bounds how many nodes a single turn may traverse,
// guarding against a malformed flow graph cycling through
// non-blocking nodes forever.
const maxTurnSteps = 1000

// UserInput is the user-provided payload for one turn, matching spec
// §6.1's interact operation.
type UserInput struct {
	Type  session.InteractionType // MESSAGE, INPUT, ACTION
	Value interface{}
}

// InputRequest describes the prompt a QUESTION node is waiting on.
type InputRequest struct {
	Prompt  string
	Options []flow.QuestionOption
}

// TurnResponse is what one ProcessTurn call assembles for the client
// (spec §4.3.2 step 5).
type TurnResponse struct {
	Messages      []string
	InputRequest  *InputRequest
	Script        *flow.ScriptContent
	CurrentNodeID string
	SessionEnded  bool
	Session       *session.Session
}

// Engine owns the turn loop.
type Engine struct {
	Flows    flow.Store
	Sessions session.Repository
	Node     *node.Processor
	Log      *logrus.Entry
}

// New builds an Engine. log may be nil.
func New(flows flow.Store, sessions session.Repository, nodeProc *node.Processor, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{Flows: flows, Sessions: sessions, Node: nodeProc, Log: log}
}

// ProcessTurn runs the turn loop for sessionID. input is nil when the
// caller is just driving the session forward (e.g. right after
// start-session); otherwise it carries the user's reply.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID string, input *UserInput) (*TurnResponse, error) {
	sess, err := e.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine: load session: %w", err)
	}
	if sess == nil {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	}
	if sess.Status.IsTerminal() {
		return &TurnResponse{CurrentNodeID: sess.CurrentNodeID, SessionEnded: true, Session: sess}, nil
	}

	def, err := e.Flows.GetByID(ctx, sess.FlowID)
	if err != nil {
		return nil, fmt.Errorf("engine: load flow: %w", err)
	}
	if def == nil {
		return nil, errs.New(errs.FlowNotFound, sess.FlowID)
	}

	resp := &TurnResponse{}

	if input != nil {
		var terminal bool
		sess, terminal, err = e.recordInput(ctx, sess, def, *input)
		if err != nil {
			return nil, err
		}
		if terminal {
			ended, err := e.Sessions.EndSession(ctx, sessionID, session.StatusCompleted)
			if err != nil {
				return nil, fmt.Errorf("engine: end session: %w", err)
			}
			resp.SessionEnded = true
			resp.CurrentNodeID = ended.CurrentNodeID
			resp.Session = ended
			return resp, nil
		}
	}

	for step := 0; ; step++ {
		if step >= maxTurnSteps {
			return nil, errs.New(errs.Fatal, fmt.Sprintf("flow %s: exceeded %d steps in a single turn, likely a graph cycle", def.ID, maxTurnSteps))
		}

		n, ok := def.NodeByID(sess.CurrentNodeID)
		if !ok {
			return nil, errs.New(errs.NodeNotFound, fmt.Sprintf("flow %s: node %s", def.ID, sess.CurrentNodeID))
		}

		outcome, err := e.runNode(ctx, sess, def, n, resp)
		if err != nil {
			return nil, err
		}
		sess = outcome.session

		if outcome.blocking {
			break
		}
		if outcome.terminal {
			ended, err := e.Sessions.EndSession(ctx, sessionID, session.StatusCompleted)
			if err != nil {
				return nil, fmt.Errorf("engine: end session: %w", err)
			}
			sess = ended
			resp.SessionEnded = true
			break
		}

		moved, err := e.Sessions.UpdateState(ctx, sessionID, outcome.next, nil, sess.Revision)
		if err != nil {
			return nil, fmt.Errorf("engine: advance to node %s: %w", outcome.next, err)
		}
		sess = moved
	}

	resp.CurrentNodeID = sess.CurrentNodeID
	resp.Session = sess
	return resp, nil
}

// recordInput stores a QUESTION node's answer into the configured
// scope/path, routes off the node via its matched option_N/DEFAULT
// edge, and appends the INPUT history row, per spec §4.3.2 steps 1-2.
// The returned bool reports whether the question had no matching
// outgoing edge, meaning the turn terminates here.
func (e *Engine) recordInput(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, input UserInput) (*session.Session, bool, error) {
	n, ok := def.NodeByID(sess.CurrentNodeID)
	if !ok || n.Type != flow.NodeQuestion || n.Question == nil {
		return sess, false, nil
	}

	scope, path := node.ScopeRoute(n.Question.Variable)
	update := map[string]interface{}{scope: node.NestedUpdate(path, input.Value)}

	edge := flow.ConnDefault
	if len(n.Question.Options) > 0 {
		answer := fmt.Sprint(input.Value)
		for i, opt := range n.Question.Options {
			if opt.Value == answer {
				edge = flow.ConnectionType(fmt.Sprintf("option_%d", i))
				break
			}
		}
	}
	next, hasEdge := def.EdgeTo(n.NodeID, edge)

	updated, err := e.Sessions.UpdateState(ctx, sess.ID, next, update, sess.Revision)
	if err != nil {
		return nil, false, fmt.Errorf("engine: record input: %w", err)
	}

	if err := e.Sessions.AppendHistory(ctx, sess.ID, n.NodeID, session.InteractionInput, map[string]interface{}{"value": input.Value}); err != nil {
		return nil, false, fmt.Errorf("engine: append input history: %w", err)
	}
	return updated, !hasEdge, nil
}

// stepOutcome is runNode's result: either advance to next within the
// current flow, stop (blocking), or terminate the session.
type stepOutcome struct {
	session  *session.Session
	next     string
	blocking bool
	terminal bool
}

// runNode dispatches n by type, applying §4.3.1's contract table.
func (e *Engine) runNode(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resp *TurnResponse) (stepOutcome, error) {
	resolver := variables.NewSessionResolver(sess.State, nil)

	switch n.Type {
	case flow.NodeMessage:
		return e.runMessage(ctx, sess, def, n, resolver, resp)
	case flow.NodeQuestion:
		return e.runQuestion(sess, n, resolver, resp)
	case flow.NodeCondition:
		return e.runCondition(sess, def, n, resolver)
	case flow.NodeAction:
		return e.runAction(ctx, sess, def, n)
	case flow.NodeWebhook:
		return e.runWebhook(ctx, sess, def, n, resolver)
	case flow.NodeComposite:
		return e.runComposite(ctx, sess, def, n, resp)
	case flow.NodeScript:
		return e.runScript(sess, n, resp)
	default:
		return stepOutcome{}, errs.New(errs.InvalidInput, fmt.Sprintf("unknown node type %q", n.Type))
	}
}

func (e *Engine) runMessage(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resolver *variables.Resolver, resp *TurnResponse) (stepOutcome, error) {
	interpolated := make([]string, len(n.Message.Messages))
	for i, m := range n.Message.Messages {
		interpolated[i] = resolver.SubstituteVariables(m, true)
	}
	resp.Messages = append(resp.Messages, interpolated...)

	if err := e.Sessions.AppendHistory(ctx, sess.ID, n.NodeID, session.InteractionMessage, map[string]interface{}{"messages": interpolated}); err != nil {
		return stepOutcome{}, fmt.Errorf("engine: append message history: %w", err)
	}

	return e.advanceOrTerminal(sess, def, n.NodeID, flow.ConnDefault)
}

func (e *Engine) runQuestion(sess *session.Session, n *flow.Node, resolver *variables.Resolver, resp *TurnResponse) (stepOutcome, error) {
	resp.InputRequest = &InputRequest{
		Prompt:  resolver.SubstituteVariables(n.Question.Prompt, true),
		Options: n.Question.Options,
	}
	return stepOutcome{session: sess, blocking: true}, nil
}

func (e *Engine) runCondition(sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resolver *variables.Resolver) (stepOutcome, error) {
	evaluator := condition.New(resolver)
	clauses := make([]condition.Clause, len(n.Condition.Clauses))
	for i, c := range n.Condition.Clauses {
		clauses[i] = condition.Clause{Expr: c.Expr, Var: c.Var, Op: condition.Op(c.Op), Arg: c.Arg, Then: c.Then}
	}
	label, err := evaluator.Evaluate(clauses, n.Condition.DefaultPath)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: evaluate condition at %s: %w", n.NodeID, err)
	}
	return e.advanceOrTerminal(sess, def, n.NodeID, flow.ConnectionType(label))
}

func (e *Engine) runAction(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node) (stepOutcome, error) {
	outcome, err := e.Node.ExecuteActions(ctx, sess.ID, sess.Revision, n.Action.Operations)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: execute action %s: %w", n.NodeID, err)
	}

	succeeded := len(outcome.ValidationErrors) == 0
	for _, r := range outcome.Results {
		if r.Err != nil {
			succeeded = false
		}
	}

	// Critical invariant: reload from the store before the next
	// node's interpolation, since the actions just executed may have
	// written the very state a following MESSAGE interpolates.
	reloaded, err := e.Sessions.GetByID(ctx, sess.ID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: reload session after action %s: %w", n.NodeID, err)
	}

	if err := e.Sessions.AppendHistory(ctx, sess.ID, n.NodeID, session.InteractionAction, map[string]interface{}{
		"actions_executed": outcome.ActionsExecuted,
		"succeeded":        succeeded,
	}); err != nil {
		return stepOutcome{}, fmt.Errorf("engine: append action history: %w", err)
	}

	edge := flow.ConnSuccess
	if !succeeded {
		edge = flow.ConnFailure
	}
	return e.advanceOrTerminal(reloaded, def, n.NodeID, edge, flow.ConnDefault)
}

func (e *Engine) runWebhook(ctx context.Context, sess *session.Session, def *flow.FlowDefinition, n *flow.Node, resolver *variables.Resolver) (stepOutcome, error) {
	out, err := e.Node.ExecuteWebhook(ctx, sess.ID, sess.Revision, *n.Webhook, resolver)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: execute webhook %s: %w", n.NodeID, err)
	}

	// Critical invariant: reload in case ExecuteWebhook stored a
	// response into session state.
	reloaded, err := e.Sessions.GetByID(ctx, sess.ID)
	if err != nil {
		return stepOutcome{}, fmt.Errorf("engine: reload session after webhook %s: %w", n.NodeID, err)
	}

	succeeded, _ := out["webhook_executed"].(bool)
	edge := flow.ConnSuccess
	if !succeeded {
		edge = flow.ConnFailure
	}
	return e.advanceOrTerminal(reloaded, def, n.NodeID, edge, flow.ConnDefault)
}

func (e *Engine) runScript(sess *session.Session, n *flow.Node, resp *TurnResponse) (stepOutcome, error) {
	resp.Script = n.Script
	return stepOutcome{session: sess, blocking: true}, nil
}

// advanceOrTerminal resolves the first edge (in priority order) that
// exists out of nodeID, terminating the session if none do.
func (e *Engine) advanceOrTerminal(sess *session.Session, def *flow.FlowDefinition, nodeID string, edges ...flow.ConnectionType) (stepOutcome, error) {
	for _, edge := range edges {
		if next, ok := def.EdgeTo(nodeID, edge); ok {
			return stepOutcome{session: sess, next: next}, nil
		}
	}
	return stepOutcome{session: sess, terminal: true}, nil
}
