package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowrt.dev/errs"
)

// MemoryRepository is an in-memory Repository used by unit tests that
// don't need a real Postgres instance (see
// //go:build integration-gated tests for the PostgresRepository
// coverage), matching the teacher's habit of testing queue/worker
// logic against miniredis rather than a live broker.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byToken  map[string]string
	history  map[string][]HistoryEntry
	flows    FlowChecker
}

// NewMemoryRepository builds an empty MemoryRepository.
func NewMemoryRepository(flows FlowChecker) *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
		byToken:  make(map[string]string),
		history:  make(map[string][]HistoryEntry),
		flows:    flows,
	}
}

func cloneState(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *MemoryRepository) CreateSession(ctx context.Context, flowID, userID string, initialState map[string]interface{}) (*Session, error) {
	found, published, err := m.flows.FlowPublished(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.FlowNotFound, flowID)
	}
	if !published {
		return nil, errs.New(errs.FlowNotPublished, flowID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if initialState == nil {
		initialState = map[string]interface{}{}
	}
	s := &Session{
		ID:           uuid.NewString(),
		Token:        NewToken(),
		FlowID:       flowID,
		UserID:       userID,
		State:        cloneState(initialState),
		Revision:     1,
		Status:       StatusActive,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	m.sessions[s.ID] = s
	m.byToken[s.Token] = s.ID
	return copySession(s), nil
}

func copySession(s *Session) *Session {
	cp := *s
	cp.State = cloneState(s.State)
	return &cp
}

func (m *MemoryRepository) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MemoryRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, nil
	}
	return copySession(m.sessions[id]), nil
}

func (m *MemoryRepository) UpdateState(ctx context.Context, sessionID string, currentNodeID string, partialState map[string]interface{}, expectedRevision int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	}
	if s.Revision != expectedRevision {
		return nil, errs.New(errs.RevisionConflict, fmt.Sprintf("session %s: expected revision %d, have %d", sessionID, expectedRevision, s.Revision))
	}

	s.State = DeepMerge(s.State, partialState)
	if currentNodeID != "" {
		s.CurrentNodeID = currentNodeID
	}
	s.Revision = expectedRevision + 1
	s.LastActivity = time.Now()
	return copySession(s), nil
}

func (m *MemoryRepository) EndSession(ctx context.Context, sessionID string, status Status) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	}
	s.Status = status
	now := time.Now()
	s.EndedAt = &now
	s.Revision++
	return copySession(s), nil
}

func (m *MemoryRepository) AppendHistory(ctx context.Context, sessionID, nodeID string, kind InteractionType, content map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return errs.New(errs.SessionNotFound, sessionID)
	}
	m.history[sessionID] = append(m.history[sessionID], HistoryEntry{
		SessionID:       sessionID,
		NodeID:          nodeID,
		InteractionType: kind,
		Content:         content,
		CreatedAt:       time.Now(),
	})
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errs.New(errs.SessionNotFound, sessionID)
	}
	delete(m.byToken, s.Token)
	delete(m.sessions, sessionID)
	delete(m.history, sessionID)
	return nil
}

// History returns the recorded history for sessionID, test-only
// accessor.
func (m *MemoryRepository) History(sessionID string) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history[sessionID]...)
}
