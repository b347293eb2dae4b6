// Package task defines the background task payload (spec §6.2) and
// the C6 Task Handler: the nine-phase idempotent executor wrapping
// ACTION/WEBHOOK work dispatched out-of-band.
//
// Grounded directly on task_handler_decorator.py's
// idempotent_task_wrapper: acquire -> fetch session (discard if
// absent) -> validate revision (discard if stale) -> execute ->
// complete ledger -> log, with any exception in that window failing
// the ledger record rather than leaving it IN_PROGRESS forever.
package task

import (
	"flowrt.dev/flow"
)

// Type is the closed set of background task kinds.
type Type string

const (
	TypeAction  Type = "action"
	TypeWebhook Type = "webhook"
)

// Payload is the wire shape background workers accept (spec §6.2).
// Exactly one of ActionOps or WebhookConfig is populated,
// matching TaskType.
type Payload struct {
	TaskType        Type                `json:"task_type"`
	SessionID       string              `json:"session_id"`
	NodeID          string              `json:"node_id"`
	SessionRevision int64               `json:"session_revision"`
	IdempotencyKey  string              `json:"idempotency_key"`
	ActionOps       []flow.ActionOp     `json:"action_ops,omitempty"`
	WebhookConfig   *flow.WebhookContent `json:"webhook_config,omitempty"`
}

// Outcome is what the handler produces for logging/response echo.
type Outcome struct {
	Discarded bool
	Reason    string // "discarded_session_not_found" | "discarded_stale" when Discarded
	Success   bool
	Result    map[string]interface{}
	Error     string
}
