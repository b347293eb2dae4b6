package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Wrap(RevisionConflict, "session 1: expected revision 3", errors.New("cas failed"))

	assert.True(t, errors.Is(err, RevisionConflict))
	assert.False(t, errors.Is(err, FlowNotFound))
}

func TestErrorIsThroughWrap(t *testing.T) {
	inner := New(SessionNotFound, "session abc")
	outer := fmt.Errorf("update_state: %w", inner)

	assert.True(t, errors.Is(outer, SessionNotFound))

	var kindErr *Error
	assert.True(t, errors.As(outer, &kindErr))
	assert.Equal(t, SessionNotFound, kindErr.Kind)
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(New(TaskDiscarded, "stale"))
	assert.True(t, ok)
	assert.Equal(t, TaskDiscarded, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}
