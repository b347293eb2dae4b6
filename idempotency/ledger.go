// Package idempotency implements the flow runtime's idempotency
// ledger (spec component C5): a single table keyed by
// idempotency_key, guaranteeing exactly one worker observes
// acquired=true per key and that terminal states are absorbing.
//
// Grounded directly on the Python original's chat_repo methods as
// used by task_handler_decorator.py (acquire_idempotency_lock,
// complete_idempotency_record, validate_task_revision): same
// three-outcome acquire semantics, same "validate revision against
// current session" responsibility split from the session repository.
package idempotency

import (
	"context"
	"time"
)

// Status is the closed set of ledger record states. Terminal states
// (SUCCEEDED, FAILED) are absorbing: once reached, a record never
// transitions again.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
)

// Record is one IdempotencyRecord row (spec §3).
type Record struct {
	Key             string
	SessionID       string
	NodeID          string
	SessionRevision int64
	Status          Status
	ResultData      map[string]interface{}
	ErrorMessage    string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Ledger is the C5 public surface (spec §4.5).
type Ledger interface {
	// Acquire attempts to claim key for the caller.
	//
	//   - No row exists: insert with IN_PROGRESS, return (true, nil).
	//   - Row exists, terminal (SUCCEEDED/FAILED): return (false, that
	//     record) so the caller can short-circuit with the cached
	//     result.
	//   - Row exists, IN_PROGRESS: another worker owns it; return
	//     (false, nil) — the caller does nothing.
	Acquire(ctx context.Context, key, sessionID, nodeID string, sessionRevision int64) (acquired bool, existing *Record, err error)

	// Complete transitions an IN_PROGRESS record to a terminal state.
	// Exactly one of resultData or errorMessage is meaningful
	// depending on success.
	Complete(ctx context.Context, key string, success bool, resultData map[string]interface{}, errorMessage string) error

	// ValidateRevision reports whether taskRevision still matches
	// the session's current revision; a mismatch means the task is
	// stale and must be discarded rather than executed.
	ValidateRevision(ctx context.Context, sessionID string, taskRevision int64) (bool, error)
}
