package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/task"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueueFromClient(client, "test:", "tasks")
}

func samplePayload() task.Payload {
	return task.Payload{
		TaskType:        task.TypeAction,
		SessionID:       "sess-1",
		NodeID:          "n1",
		SessionRevision: 3,
		IdempotencyKey:  "key-1",
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, samplePayload()))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "key-1", got.IdempotencyKey)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestDequeueTimeoutReturnsNil(t *testing.T) {
	q := newTestQueue(t)
	got, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProcessingSetLifecycle(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.MarkProcessing(ctx, "key-1", time.Now().Add(time.Minute)))

	inProcessing, err := q.IsProcessing(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, inProcessing)

	require.NoError(t, q.CompleteJob(ctx, "key-1"))

	inProcessing, err = q.IsProcessing(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, inProcessing)
}

func TestFailJobRequeues(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	payload := samplePayload()

	require.NoError(t, q.MarkProcessing(ctx, payload.IdempotencyKey, time.Now().Add(time.Minute)))
	require.NoError(t, q.FailJob(ctx, payload.IdempotencyKey, true, payload))

	inProcessing, err := q.IsProcessing(ctx, payload.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, inProcessing)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
