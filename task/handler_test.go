package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/flow"
	"flowrt.dev/idempotency"
	"flowrt.dev/node"
	"flowrt.dev/session"
)

type publishedChecker struct{}

func (publishedChecker) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	return true, true, nil
}

func newTestHandler(t *testing.T, repo *session.MemoryRepository) (*Handler, *idempotency.MemoryLedger) {
	t.Helper()
	ledger := idempotency.NewMemoryLedger(func(ctx context.Context, sessionID string) (int64, bool, error) {
		s, err := repo.GetByID(ctx, sessionID)
		if err != nil {
			return 0, false, err
		}
		if s == nil {
			return 0, false, nil
		}
		return s.Revision, true, nil
	})
	proc := node.NewProcessor(repo, nil)
	return NewHandler(ledger, repo, proc, nil), ledger
}

func newHandlerTestSession(t *testing.T, repo *session.MemoryRepository) *session.Session {
	t.Helper()
	s, err := repo.CreateSession(context.Background(), "flow-1", "", nil)
	require.NoError(t, err)
	return s
}

func TestHandleExecutesActionAndCompletesLedger(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newHandlerTestSession(t, repo)
	h, ledger := newTestHandler(t, repo)

	payload := Payload{
		TaskType:        TypeAction,
		SessionID:       s.ID,
		NodeID:          "n1",
		SessionRevision: s.Revision,
		IdempotencyKey:  "key-1",
		ActionOps:       []flow.ActionOp{{Type: node.OpSetVariable, Variable: "name", Value: "ada"}},
	}

	require.NoError(t, h.Handle(context.Background(), payload))

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.State["variables"].(map[string]interface{})["name"])

	_, existing, err := ledger.Acquire(context.Background(), "key-1", s.ID, "n1", got.Revision)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, idempotency.StatusSucceeded, existing.Status)
}

func TestHandleDiscardsWhenSessionMissing(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	h, ledger := newTestHandler(t, repo)

	payload := Payload{
		TaskType:        TypeAction,
		SessionID:       "missing-session",
		NodeID:          "n1",
		SessionRevision: 0,
		IdempotencyKey:  "key-2",
		ActionOps:       []flow.ActionOp{{Type: node.OpSetVariable, Variable: "name", Value: "ada"}},
	}

	require.NoError(t, h.Handle(context.Background(), payload))

	_, existing, err := ledger.Acquire(context.Background(), "key-2", payload.SessionID, "n1", 0)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "discarded_session_not_found", existing.ResultData["status"])
}

func TestHandleDiscardsWhenRevisionStale(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newHandlerTestSession(t, repo)
	// advance the session so payload.SessionRevision no longer matches.
	_, err := repo.UpdateState(context.Background(), s.ID, "", map[string]interface{}{"variables": map[string]interface{}{"x": 1}}, s.Revision)
	require.NoError(t, err)

	h, ledger := newTestHandler(t, repo)

	payload := Payload{
		TaskType:        TypeAction,
		SessionID:       s.ID,
		NodeID:          "n1",
		SessionRevision: s.Revision, // stale: session has already advanced past this
		IdempotencyKey:  "key-3",
		ActionOps:       []flow.ActionOp{{Type: node.OpSetVariable, Variable: "name", Value: "ada"}},
	}

	require.NoError(t, h.Handle(context.Background(), payload))

	_, existing, err := ledger.Acquire(context.Background(), "key-3", s.ID, "n1", s.Revision)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, "discarded_stale", existing.ResultData["status"])
}

func TestHandleSecondCallShortCircuitsOnAcquire(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	s := newHandlerTestSession(t, repo)
	h, _ := newTestHandler(t, repo)

	payload := Payload{
		TaskType:        TypeAction,
		SessionID:       s.ID,
		NodeID:          "n1",
		SessionRevision: s.Revision,
		IdempotencyKey:  "key-4",
		ActionOps:       []flow.ActionOp{{Type: node.OpIncrement, Variable: "counter"}},
	}

	require.NoError(t, h.Handle(context.Background(), payload))
	got1, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)

	// Replay with the same idempotency key and a now-stale revision:
	// the second call must be a no-op, not a discard.
	require.NoError(t, h.Handle(context.Background(), payload))
	got2, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, got1.Revision, got2.Revision)
}
