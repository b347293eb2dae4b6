package session

import (
	"context"
)

// Repository is the C4 Session Repository's public surface (spec
// §4.4.5).
type Repository interface {
	// CreateSession fails with errs.FlowNotFound or
	// errs.FlowNotPublished if flowID doesn't resolve to a published
	// flow.
	CreateSession(ctx context.Context, flowID, userID string, initialState map[string]interface{}) (*Session, error)

	GetByID(ctx context.Context, sessionID string) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)

	// UpdateState deep-merges partialState into the session's state
	// and advances current_node_id, performing the CAS check against
	// expectedRevision. Fails with errs.RevisionConflict on mismatch,
	// errs.SessionNotFound if sessionID is absent.
	UpdateState(ctx context.Context, sessionID string, currentNodeID string, partialState map[string]interface{}, expectedRevision int64) (*Session, error)

	EndSession(ctx context.Context, sessionID string, status Status) (*Session, error)

	AppendHistory(ctx context.Context, sessionID, nodeID string, kind InteractionType, content map[string]interface{}) error

	Delete(ctx context.Context, sessionID string) error
}

// FlowChecker is the minimal lookup CreateSession needs to enforce
// "flow exists and is published" without depending on the flow
// package's storage layer directly.
type FlowChecker interface {
	// FlowPublished reports whether flowID exists and is published.
	// found=false means the flow id does not exist at all.
	FlowPublished(ctx context.Context, flowID string) (found, published bool, err error)
}
