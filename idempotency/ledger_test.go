package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFirstCallerWins(t *testing.T) {
	l := NewMemoryLedger(nil)
	ctx := context.Background()

	acquired, existing, err := l.Acquire(ctx, "key-1", "sess-1", "n1", 3)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Nil(t, existing)

	acquired, existing, err = l.Acquire(ctx, "key-1", "sess-1", "n1", 3)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.Nil(t, existing) // still IN_PROGRESS
}

func TestAcquireTerminalRecordShortCircuits(t *testing.T) {
	l := NewMemoryLedger(nil)
	ctx := context.Background()

	acquired, _, err := l.Acquire(ctx, "key-1", "sess-1", "n1", 1)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, l.Complete(ctx, "key-1", true, map[string]interface{}{"ok": true}, ""))

	acquired, existing, err := l.Acquire(ctx, "key-1", "sess-1", "n1", 1)
	require.NoError(t, err)
	assert.False(t, acquired)
	require.NotNil(t, existing)
	assert.Equal(t, StatusSucceeded, existing.Status)
	assert.Equal(t, true, existing.ResultData["ok"])
}

func TestCompleteIsAbsorbing(t *testing.T) {
	l := NewMemoryLedger(nil)
	ctx := context.Background()

	_, _, err := l.Acquire(ctx, "key-1", "sess-1", "n1", 1)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, "key-1", false, nil, "boom"))

	// A second Complete call (e.g. a retried worker) is a no-op, not an
	// error and not a second transition.
	require.NoError(t, l.Complete(ctx, "key-1", true, map[string]interface{}{"ok": true}, ""))

	_, existing, err := l.Acquire(ctx, "key-1", "sess-1", "n1", 1)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, StatusFailed, existing.Status)
	assert.Equal(t, "boom", existing.ErrorMessage)
}

func TestValidateRevisionDetectsStaleTask(t *testing.T) {
	sessionRevision := int64(5)
	reader := func(ctx context.Context, sessionID string) (int64, bool, error) {
		return sessionRevision, true, nil
	}
	l := NewMemoryLedger(reader)

	fresh, err := l.ValidateRevision(context.Background(), "sess-1", 5)
	require.NoError(t, err)
	assert.True(t, fresh)

	stale, err := l.ValidateRevision(context.Background(), "sess-1", 4)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestValidateRevisionMissingSessionIsStale(t *testing.T) {
	reader := func(ctx context.Context, sessionID string) (int64, bool, error) {
		return 0, false, nil
	}
	l := NewMemoryLedger(reader)

	ok, err := l.ValidateRevision(context.Background(), "ghost", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}
