// Package node is the C3 Node Processor Core: the pure operation
// dispatcher for ACTION and WEBHOOK side effects, invoked by the task
// handler (C6) for out-of-band work and, for cheap actions, directly
// by the flow engine (C7).
//
// Grounded on node_processor_core.py's NodeProcessorCore: same op set,
// same scope-routing rule (a dotted variable name selects the scope,
// otherwise defaults to "variables"), same per-op CAS state write.
package node

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"flowrt.dev/errs"
	"flowrt.dev/flow"
	"flowrt.dev/session"
	"flowrt.dev/variables"
)

// Op is the closed set of supported ACTION operation types (spec
// §4.7's table).
const (
	OpSetVariable = "set_variable"
	OpIncrement   = "increment"
	OpAppend      = "append"
	OpRemove      = "remove"
	OpClear       = "clear"
	OpCalculate   = "calculate"
	OpAPICall     = "api_call"
)

// Processor executes ACTION operations and WEBHOOK calls against a
// session, writing results back through the session repository.
type Processor struct {
	Sessions session.Repository
	HTTP     *webhookClient
	Log      *logrus.Entry
}

// NewProcessor builds a Processor. log may be nil.
func NewProcessor(sessions session.Repository, log *logrus.Entry) *Processor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{Sessions: sessions, HTTP: newWebhookClient(), Log: log}
}

// ActionResult is one op's outcome, mirroring the original's
// per-action result entries.
type ActionResult struct {
	ActionType string
	Index      int
	Result     map[string]interface{}
	Err        error
}

// ActionsOutcome is execute_action_operations' return shape.
type ActionsOutcome struct {
	ActionsExecuted  int
	Results          []ActionResult
	ValidationErrors []string
	SessionUpdated   bool
}

// ExecuteActions runs ops sequentially against session sessionID,
// validating every op's required parameters up front, before any op
// is dispatched (no partial apply on a validation failure).
func (p *Processor) ExecuteActions(ctx context.Context, sessionID string, revision int64, ops []flow.ActionOp) (ActionsOutcome, error) {
	report := ValidateActions(ops)
	for _, w := range report.Warnings {
		p.Log.WithField("session_id", sessionID).Warnf("action validation warning: %s: %s", w.Field, w.Message)
	}
	if !report.Valid() {
		var msgs []string
		for _, e := range report.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
		p.Log.WithField("session_id", sessionID).Errorf("action validation failed: %v", msgs)
		return ActionsOutcome{ValidationErrors: msgs}, nil
	}

	rev := revision
	results := make([]ActionResult, 0, len(ops))
	for i, op := range ops {
		result, newRev, err := p.executeOne(ctx, sessionID, rev, op)
		if newRev != 0 {
			rev = newRev
		}
		entry := ActionResult{ActionType: op.Type, Index: i, Result: result, Err: err}
		if err != nil {
			p.Log.WithField("session_id", sessionID).Errorf("action %d (%s) failed: %v", i, op.Type, err)
			entry.Result = map[string]interface{}{"error": fmt.Sprintf("execution failed: %v", err)}
		}
		results = append(results, entry)
	}

	return ActionsOutcome{ActionsExecuted: len(ops), Results: results, SessionUpdated: true}, nil
}

// executeOne dispatches a single op, returning its result map and the
// session revision after the write (0 if nothing was written).
func (p *Processor) executeOne(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	switch op.Type {
	case OpSetVariable:
		return p.setVariable(ctx, sessionID, revision, op)
	case OpIncrement:
		return p.increment(ctx, sessionID, revision, op)
	case OpAppend:
		return p.appendToList(ctx, sessionID, revision, op)
	case OpRemove:
		return p.removeFromList(ctx, sessionID, revision, op)
	case OpClear:
		return p.clear(ctx, sessionID, revision, op)
	case OpCalculate:
		return p.calculate(ctx, sessionID, revision, op)
	case OpAPICall:
		return p.apiCall(ctx, sessionID, revision, op)
	default:
		return map[string]interface{}{"error": fmt.Sprintf("unknown action type: %s", op.Type)}, 0, nil
	}
}

// ScopeRoute splits "scope.path" into (scope, path), defaulting the
// scope to "variables" when variable has no dot prefix. Exported so
// the engine can apply the same rule when recording a QUESTION
// node's answer.
func ScopeRoute(variable string) (scope, path string) {
	if idx := strings.Index(variable, "."); idx >= 0 {
		return variable[:idx], variable[idx+1:]
	}
	return "variables", variable
}

func scopeRoute(variable string) (scope, path string) {
	return ScopeRoute(variable)
}

// NestedUpdate builds the nested-map shape a dotted path resolves to:
// "counter.value" becomes {"counter": {"value": value}}. Mirrors
// variables.Resolver's setNested so a scope write through
// session.UpdateState lands where a {{scope.counter.value}} template
// read expects it, and merges cleanly through session.DeepMerge.
func NestedUpdate(path string, value interface{}) map[string]interface{} {
	segments := strings.Split(path, ".")
	nested := map[string]interface{}{segments[len(segments)-1]: value}
	for i := len(segments) - 2; i >= 0; i-- {
		nested = map[string]interface{}{segments[i]: nested}
	}
	return nested
}

// NestedValue reads a dotted path out of a nested map, mirroring
// variables.Resolver's getNested: any mismatch resolves to nil.
func NestedValue(data map[string]interface{}, path string) interface{} {
	var current interface{} = data
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func (p *Processor) writeScoped(ctx context.Context, sessionID string, revision int64, scope, path string, value interface{}) (*session.Session, error) {
	update := map[string]interface{}{scope: NestedUpdate(path, value)}
	return p.Sessions.UpdateState(ctx, sessionID, "", update, revision)
}

func (p *Processor) setVariable(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	scope, path := scopeRoute(op.Variable)
	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, op.Value)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"variable_set": op.Variable, "value": op.Value}, updated.Revision, nil
}

func (p *Processor) increment(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	current, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if current == nil {
		return nil, 0, errs.New(errs.SessionNotFound, sessionID)
	}

	scope, path := scopeRoute(op.Variable)
	by := 1.0
	if op.Increment != nil {
		v, ok := toFloat(op.Increment)
		if !ok {
			return nil, 0, errs.New(errs.InvalidInput, "increment must be numeric")
		}
		by = v
	}
	currentValue, _ := toFloat(nestedLookup(current.State, scope, path))
	newValue := currentValue + by

	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, newValue)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"variable_incremented": op.Variable, "new_value": newValue}, updated.Revision, nil
}

func (p *Processor) appendToList(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	current, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if current == nil {
		return nil, 0, errs.New(errs.SessionNotFound, sessionID)
	}
	scope, path := scopeRoute(op.Variable)
	list := asList(nestedLookup(current.State, scope, path))
	list = append(list, op.Value)

	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, list)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"value_appended": op.Variable, "new_length": len(list)}, updated.Revision, nil
}

func (p *Processor) removeFromList(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	current, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if current == nil {
		return nil, 0, errs.New(errs.SessionNotFound, sessionID)
	}
	scope, path := scopeRoute(op.Variable)
	list := asList(nestedLookup(current.State, scope, path))
	filtered := make([]interface{}, 0, len(list))
	removed := false
	for _, v := range list {
		if !removed && equalValues(v, op.Value) {
			removed = true
			continue
		}
		filtered = append(filtered, v)
	}

	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, filtered)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"value_removed": op.Variable, "new_length": len(filtered)}, updated.Revision, nil
}

func (p *Processor) clear(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	scope, path := scopeRoute(op.Variable)
	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, nil)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"variable_cleared": op.Variable}, updated.Revision, nil
}

func (p *Processor) calculate(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	// Scope references in the expression are interpolated against the
	// session's current state first, so only arithmetic over literals
	// reaches evalArithmetic; an unresolved reference is removed and the
	// expression then fails to parse.
	expr := op.Expression
	current, err := p.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if current != nil {
		expr = variables.NewSessionResolver(current.State, nil).SubstituteVariables(expr, false)
	}
	result, err := evalArithmetic(expr)
	if err != nil {
		return nil, 0, errs.New(errs.InvalidInput, fmt.Sprintf("calculation failed: %v", err))
	}

	scope, path := scopeRoute(op.ResultVariable)
	updated, err := p.writeScoped(ctx, sessionID, revision, scope, path, result)
	if err != nil {
		return nil, 0, err
	}
	return map[string]interface{}{"calculation_result": result, "stored_in": op.ResultVariable}, updated.Revision, nil
}

func nestedLookup(state map[string]interface{}, scope, path string) interface{} {
	scopeMap, _ := state[scope].(map[string]interface{})
	if scopeMap == nil {
		return nil
	}
	return NestedValue(scopeMap, path)
}

func asList(v interface{}) []interface{} {
	if l, ok := v.([]interface{}); ok {
		return append([]interface{}{}, l...)
	}
	return nil
}

func equalValues(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
