// Package orchestrator is the C8 Turn Orchestrator: the thin façade
// the transport layer (httpapi) calls, wiring together flow lookup,
// session lifecycle, and the C7 engine's turn loop into the four
// operations spec §6.1 exposes (start, interact, get, end).
//
// Grounded on the original's chat_runtime service object
// (app/api/chat.py), which sits at the same seam between the FastAPI
// route handlers and the lower-level session/engine services.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"flowrt.dev/engine"
	"flowrt.dev/errs"
	"flowrt.dev/flow"
	"flowrt.dev/flowgraph"
	"flowrt.dev/session"
)

// Orchestrator owns a conversational turn end to end.
type Orchestrator struct {
	Flows    flow.Store
	Sessions session.Repository
	Engine   *engine.Engine
	Log      *logrus.Entry
}

// New builds an Orchestrator. log may be nil.
func New(flows flow.Store, sessions session.Repository, eng *engine.Engine, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{Flows: flows, Sessions: sessions, Engine: eng, Log: log}
}

// StartResult is what StartSession returns to the transport layer:
// the new session plus the turn response produced by driving it
// forward from the flow's entry node to its first blocking point.
type StartResult struct {
	Session *session.Session
	Turn    *engine.TurnResponse
}

// StartSession creates a session against flowID and immediately runs
// one turn with no input, positioning it at the entry node and
// advancing through any non-interactive nodes (spec §6.1 start).
func (o *Orchestrator) StartSession(ctx context.Context, flowID, userID string) (*StartResult, error) {
	def, err := o.Flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load flow %s: %w", flowID, err)
	}
	if def == nil {
		return nil, errs.New(errs.FlowNotFound, flowID)
	}

	if _, err := flowgraph.Build(def); err != nil {
		return nil, errs.Wrap(errs.FlowValidationError, "invalid flow graph", err)
	}
	if err := flowgraph.ValidateComposites(def, o.flowLookup(ctx)); err != nil {
		return nil, errs.Wrap(errs.FlowValidationError, "invalid composite reference", err)
	}

	s, err := o.Sessions.CreateSession(ctx, flowID, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}

	s, err = o.Sessions.UpdateState(ctx, s.ID, def.EntryNodeID, nil, s.Revision)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: position session %s at entry node: %w", s.ID, err)
	}

	turn, err := o.Engine.ProcessTurn(ctx, s.ID, nil)
	if err != nil {
		return nil, err
	}
	o.Log.WithField("session_id", s.ID).WithField("flow_id", flowID).Info("session started")
	return &StartResult{Session: turn.Session, Turn: turn}, nil
}

// flowLookup adapts Flows.GetByID to flowgraph.FlowLookup's
// not-found-is-an-error contract.
func (o *Orchestrator) flowLookup(ctx context.Context) flowgraph.FlowLookup {
	return func(flowID string) (*flow.FlowDefinition, error) {
		def, err := o.Flows.GetByID(ctx, flowID)
		if err != nil {
			return nil, err
		}
		if def == nil {
			return nil, fmt.Errorf("flow %s not found", flowID)
		}
		return def, nil
	}
}

// Interact advances sessionID by one turn with the user's input (spec
// §6.1 interact).
func (o *Orchestrator) Interact(ctx context.Context, sessionID string, input engine.UserInput) (*engine.TurnResponse, error) {
	turn, err := o.Engine.ProcessTurn(ctx, sessionID, &input)
	if err != nil {
		return nil, err
	}
	o.Log.WithField("session_id", sessionID).Debug("turn processed")
	return turn, nil
}

// GetSession returns sessionID's current state (spec §6.1 get).
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := o.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load session %s: %w", sessionID, err)
	}
	if s == nil {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	}
	return s, nil
}

// EndSession marks sessionID abandoned (spec §6.1 end): a user- or
// operator-initiated stop, distinct from the engine's own COMPLETED
// transition at a flow's natural terminal node.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := o.Sessions.EndSession(ctx, sessionID, session.StatusAbandoned)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: end session %s: %w", sessionID, err)
	}
	o.Log.WithField("session_id", sessionID).Info("session abandoned")
	return s, nil
}
