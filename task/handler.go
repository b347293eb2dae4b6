package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"flowrt.dev/errs"
	"flowrt.dev/idempotency"
	"flowrt.dev/node"
	"flowrt.dev/session"
	"flowrt.dev/variables"
)

// Handler is the C6 Task Handler: the nine-phase idempotent wrapper
// background workers call for each dequeued task.Payload.
//
// Grounded directly on task_handler_decorator.py's
// idempotent_task_handler: acquire -> fetch session (discard if
// absent) -> validate revision (discard if stale) -> execute ->
// complete ledger -> log, with any panic-free error in that window
// failing the ledger record rather than leaving it IN_PROGRESS
// forever.
type Handler struct {
	Ledger   idempotency.Ledger
	Sessions session.Repository
	Node     *node.Processor
	Log      *logrus.Entry
}

// NewHandler builds a Handler. log may be nil.
func NewHandler(ledger idempotency.Ledger, sessions session.Repository, nodeProc *node.Processor, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{Ledger: ledger, Sessions: sessions, Node: nodeProc, Log: log}
}

// Handle runs the nine-phase protocol for one payload. A non-nil
// return means the task genuinely failed and the worker pool should
// treat it as such (the ledger record is already marked FAILED by the
// time this returns).
func (h *Handler) Handle(ctx context.Context, payload Payload) (err error) {
	log := h.Log.WithFields(logrus.Fields{
		"task_type":       payload.TaskType,
		"session_id":      payload.SessionID,
		"node_id":         payload.NodeID,
		"idempotency_key": payload.IdempotencyKey,
	})

	// Phase 2: idempotency lock acquisition.
	acquired, existing, aerr := h.Ledger.Acquire(ctx, payload.IdempotencyKey, payload.SessionID, payload.NodeID, payload.SessionRevision)
	if aerr != nil {
		return fmt.Errorf("task: acquire idempotency lock: %w", aerr)
	}
	if !acquired {
		status := ""
		if existing != nil {
			status = string(existing.Status)
		}
		log.WithField("existing_status", status).Info("task already processed")
		return nil
	}

	defer func() {
		if err != nil {
			if cerr := h.Ledger.Complete(ctx, payload.IdempotencyKey, false, nil, err.Error()); cerr != nil {
				log.WithError(cerr).Error("failed to mark idempotency record as failed")
			}
			log.WithError(err).Error("task processing failed")
		}
	}()

	// Phase 3: session existence validation.
	current, serr := h.Sessions.GetByID(ctx, payload.SessionID)
	if serr != nil && !errors.Is(serr, errs.SessionNotFound) {
		return fmt.Errorf("task: fetch session: %w", serr)
	}
	if current == nil {
		return h.discard(ctx, payload, "discarded_session_not_found", "session was deleted", log, "session not found, likely deleted, discarding task")
	}

	// Phase 4: task revision validation.
	valid, verr := h.Ledger.ValidateRevision(ctx, payload.SessionID, payload.SessionRevision)
	if verr != nil {
		return fmt.Errorf("task: validate revision: %w", verr)
	}
	if !valid {
		return h.discard(ctx, payload, "discarded_stale", "task revision is stale", log, "task revision is stale, discarding task")
	}

	// Phase 5: execute core business logic.
	result, xerr := h.execute(ctx, payload, current)
	if xerr != nil {
		return fmt.Errorf("task: execute: %w", xerr)
	}

	// Phase 6-7: build and persist the success result.
	resultData := map[string]interface{}{
		"status":          "completed",
		"idempotency_key": payload.IdempotencyKey,
		"task_type":       string(payload.TaskType),
		"result":          result,
	}
	if cerr := h.Ledger.Complete(ctx, payload.IdempotencyKey, true, resultData, ""); cerr != nil {
		return fmt.Errorf("task: complete idempotency record: %w", cerr)
	}

	// Phase 8: success logging.
	log.Info("task completed successfully")
	return nil
}

// discard completes the ledger record as a successful no-op (the task
// is legitimately skipped, not failed) and returns nil so the worker
// pool acks the job.
func (h *Handler) discard(ctx context.Context, payload Payload, status, reason string, log *logrus.Entry, message string) error {
	resultData := map[string]interface{}{"status": status, "reason": reason}
	if err := h.Ledger.Complete(ctx, payload.IdempotencyKey, true, resultData, ""); err != nil {
		return fmt.Errorf("task: complete discarded record: %w", err)
	}
	log.Info(message)
	return nil
}

func (h *Handler) execute(ctx context.Context, payload Payload, current *session.Session) (map[string]interface{}, error) {
	switch payload.TaskType {
	case TypeAction:
		outcome, err := h.Node.ExecuteActions(ctx, payload.SessionID, payload.SessionRevision, payload.ActionOps)
		if err != nil {
			return nil, err
		}
		if len(outcome.ValidationErrors) > 0 {
			return nil, errs.New(errs.InvalidInput, fmt.Sprintf("action validation failed: %v", outcome.ValidationErrors))
		}
		results := make([]map[string]interface{}, 0, len(outcome.Results))
		for _, r := range outcome.Results {
			results = append(results, map[string]interface{}{
				"action_type": r.ActionType,
				"result":      r.Result,
			})
		}
		return map[string]interface{}{"actions_executed": outcome.ActionsExecuted, "results": results}, nil

	case TypeWebhook:
		if payload.WebhookConfig == nil {
			return nil, errs.New(errs.InvalidInput, "webhook task missing webhook_config")
		}
		resolver := variables.NewSessionResolver(current.State, nil)
		out, err := h.Node.ExecuteWebhook(ctx, payload.SessionID, payload.SessionRevision, *payload.WebhookConfig, resolver)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"webhook_result": out}, nil

	default:
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown task type %q", payload.TaskType))
	}
}
