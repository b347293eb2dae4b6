package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"flowrt.dev/errs"
	"flowrt.dev/events"
)

// PostgresRepository is the Repository implementation backing
// production deployments: one row per session in `sessions`, one
// append-only row per turn in `conversation_history`, and a
// pg_notify('flow_events', ...) emitted in the same transaction as
// every committed state change (spec §4.4.4).
type PostgresRepository struct {
	db     DB
	flows  FlowChecker
	log    *logrus.Entry
}

// DB is the minimal pgx surface the repository needs; *db.PostgresDB
// satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPostgresRepository builds a PostgresRepository. log may be nil.
func NewPostgresRepository(db DB, flows FlowChecker, log *logrus.Entry) *PostgresRepository {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PostgresRepository{db: db, flows: flows, log: log}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, flowID, userID string, initialState map[string]interface{}) (*Session, error) {
	found, published, err := r.flows.FlowPublished(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("session: check flow %s: %w", flowID, err)
	}
	if !found {
		return nil, errs.New(errs.FlowNotFound, flowID)
	}
	if !published {
		return nil, errs.New(errs.FlowNotPublished, flowID)
	}

	if initialState == nil {
		initialState = map[string]interface{}{}
	}
	stateJSON, err := json.Marshal(initialState)
	if err != nil {
		return nil, fmt.Errorf("session: marshal initial state: %w", err)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Token:        NewToken(),
		FlowID:       flowID,
		UserID:       userID,
		State:        initialState,
		Revision:     1,
		Status:       StatusActive,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, token, flow_id, user_id, state, current_node_id, revision, status, started_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9)`,
		s.ID, s.Token, s.FlowID, nullableString(s.UserID), stateJSON, s.Revision, s.Status, s.StartedAt, s.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}

	if err := r.emit(ctx, tx, events.SessionStarted, s, "", "", StatusActive, 0); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session: commit: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	return r.scanOne(ctx, `SELECT id, token, flow_id, user_id, state, current_node_id, revision, status, started_at, last_activity_at, ended_at
		FROM sessions WHERE id = $1`, sessionID)
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	return r.scanOne(ctx, `SELECT id, token, flow_id, user_id, state, current_node_id, revision, status, started_at, last_activity_at, ended_at
		FROM sessions WHERE token = $1`, token)
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, arg string) (*Session, error) {
	row := r.db.QueryRow(ctx, query, arg)

	var (
		s            Session
		userID       *string
		currentNode  *string
		stateJSON    []byte
		endedAt      *time.Time
	)
	err := row.Scan(&s.ID, &s.Token, &s.FlowID, &userID, &stateJSON, &currentNode, &s.Revision, &s.Status, &s.StartedAt, &s.LastActivity, &endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	if userID != nil {
		s.UserID = *userID
	}
	if currentNode != nil {
		s.CurrentNodeID = *currentNode
	}
	s.EndedAt = endedAt
	if err := json.Unmarshal(stateJSON, &s.State); err != nil {
		return nil, fmt.Errorf("session: unmarshal state: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) UpdateState(ctx context.Context, sessionID string, currentNodeID string, partialState map[string]interface{}, expectedRevision int64) (*Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		stateJSON   []byte
		prevNode    *string
		prevStatus  Status
		revision    int64
	)
	row := tx.QueryRow(ctx, `SELECT state, current_node_id, status, revision FROM sessions WHERE id = $1 FOR UPDATE`, sessionID)
	if err := row.Scan(&stateJSON, &prevNode, &prevStatus, &revision); errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	} else if err != nil {
		return nil, fmt.Errorf("session: scan for update: %w", err)
	}

	if revision != expectedRevision {
		return nil, errs.New(errs.RevisionConflict, fmt.Sprintf("session %s: expected revision %d, have %d", sessionID, expectedRevision, revision))
	}

	var existing map[string]interface{}
	if err := json.Unmarshal(stateJSON, &existing); err != nil {
		return nil, fmt.Errorf("session: unmarshal existing state: %w", err)
	}
	merged := DeepMerge(existing, partialState)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("session: marshal merged state: %w", err)
	}

	newRevision := expectedRevision + 1
	targetNode := currentNodeID
	if targetNode == "" {
		if prevNode != nil {
			targetNode = *prevNode
		}
	}

	_, err = tx.Exec(ctx, `UPDATE sessions SET state = $1, current_node_id = $2, revision = $3, last_activity_at = $4 WHERE id = $5 AND revision = $6`,
		mergedJSON, nullableString(targetNode), newRevision, time.Now(), sessionID, expectedRevision)
	if err != nil {
		return nil, fmt.Errorf("session: update: %w", err)
	}

	var prevNodeStr string
	if prevNode != nil {
		prevNodeStr = *prevNode
	}

	s := &Session{
		ID:            sessionID,
		State:         merged,
		CurrentNodeID: targetNode,
		Revision:      newRevision,
		Status:        prevStatus,
		LastActivity:  time.Now(),
	}

	evType := events.SessionUpdated
	if targetNode != prevNodeStr {
		evType = events.NodeChanged
	}
	if err := r.emit(ctx, tx, evType, s, prevNodeStr, prevStatus, prevStatus, expectedRevision); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session: commit: %w", err)
	}
	return r.GetByID(ctx, sessionID)
}

func (r *PostgresRepository) EndSession(ctx context.Context, sessionID string, status Status) (*Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var prevStatus Status
	var revision int64
	row := tx.QueryRow(ctx, `SELECT status, revision FROM sessions WHERE id = $1 FOR UPDATE`, sessionID)
	if err := row.Scan(&prevStatus, &revision); errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.SessionNotFound, sessionID)
	} else if err != nil {
		return nil, fmt.Errorf("session: scan for end: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `UPDATE sessions SET status = $1, ended_at = $2, revision = revision + 1 WHERE id = $3`, status, now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: end: %w", err)
	}

	s := &Session{ID: sessionID, Status: status, Revision: revision + 1}
	if err := r.emit(ctx, tx, events.SessionStatusChanged, s, "", prevStatus, status, revision); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session: commit: %w", err)
	}
	return r.GetByID(ctx, sessionID)
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, sessionID, nodeID string, kind InteractionType, content map[string]interface{}) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("session: marshal history content: %w", err)
	}
	return r.db.Exec(ctx, `INSERT INTO conversation_history (session_id, node_id, interaction_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, sessionID, nodeID, kind, contentJSON, time.Now())
}

func (r *PostgresRepository) Delete(ctx context.Context, sessionID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `SELECT flow_id FROM sessions WHERE id = $1`, sessionID).Scan(new(string)); errors.Is(err, pgx.ErrNoRows) {
		return errs.New(errs.SessionNotFound, sessionID)
	} else if err != nil {
		return fmt.Errorf("session: scan for delete: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_history WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("session: delete history: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}

	payload, _ := json.Marshal(events.Event{
		EventType: events.SessionDeleted,
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, events.Channel, string(payload)); err != nil {
		return fmt.Errorf("session: notify delete: %w", err)
	}

	return tx.Commit(ctx)
}

// emit publishes a flow_event within tx so it commits atomically with
// the state change it describes.
func (r *PostgresRepository) emit(ctx context.Context, tx pgx.Tx, evType events.Type, s *Session, prevNode string, prevStatus, currentStatus Status, prevRevision int64) error {
	ev := events.Event{
		EventType:        evType,
		SessionID:        s.ID,
		FlowID:           s.FlowID,
		UserID:           s.UserID,
		CurrentNodeID:    s.CurrentNodeID,
		PreviousNodeID:   prevNode,
		CurrentStatus:    string(currentStatus),
		PreviousStatus:   string(prevStatus),
		Revision:         s.Revision,
		PreviousRevision: prevRevision,
		Timestamp:        time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, events.Channel, string(payload)); err != nil {
		return fmt.Errorf("session: notify: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
