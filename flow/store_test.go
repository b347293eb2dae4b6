package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutAndGet(t *testing.T) {
	s := NewMemoryStore()
	f := sampleFlow()
	f.Published = true
	s.Put(f)

	got, err := s.GetByID(context.Background(), "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "f1", got.ID)

	found, published, err := s.FlowPublished(context.Background(), "f1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, published)
}

func TestMemoryStoreUnknownFlow(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	found, _, err := s.FlowPublished(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDecodeContentMatchesNodeType(t *testing.T) {
	n := Node{Type: NodeMessage}
	require.NoError(t, decodeContent(&n, []byte(`{"messages":["hi"]}`)))
	require.NotNil(t, n.Message)
	assert.Equal(t, []string{"hi"}, n.Message.Messages)
}

func TestDecodeContentRejectsUnknownType(t *testing.T) {
	n := Node{Type: "BOGUS"}
	assert.Error(t, decodeContent(&n, []byte(`{}`)))
}
