package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB is the minimal pgx surface PostgresLedger needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// RevisionReader reads the current revision of a session, used by
// ValidateRevision. *session.PostgresRepository and
// *session.MemoryRepository both expose GetByID which satisfies a
// thin adapter; callers pass a closure rather than importing the
// session package directly, to avoid a dependency cycle (session
// does not need to know about idempotency).
type RevisionReader func(ctx context.Context, sessionID string) (revision int64, found bool, err error)

// PostgresLedger is the production Ledger implementation: one row per
// idempotency_key in `idempotency_records`.
type PostgresLedger struct {
	db       DB
	revision RevisionReader
}

// NewPostgresLedger builds a PostgresLedger.
func NewPostgresLedger(db DB, revision RevisionReader) *PostgresLedger {
	return &PostgresLedger{db: db, revision: revision}
}

func (l *PostgresLedger) Acquire(ctx context.Context, key, sessionID, nodeID string, sessionRevision int64) (bool, *Record, error) {
	var inserted string
	err := l.db.QueryRow(ctx, `
		INSERT INTO idempotency_records (idempotency_key, session_id, node_id, session_revision, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key`,
		key, sessionID, nodeID, sessionRevision, StatusInProgress, time.Now()).Scan(&inserted)
	if err == nil {
		// Insert happened: row was returned by RETURNING.
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("idempotency: acquire: %w", err)
	}

	// Conflict: a row already exists. Load it to decide the outcome.
	existing, loadErr := l.load(ctx, key)
	if loadErr != nil {
		return false, nil, loadErr
	}
	if existing.Status == StatusInProgress {
		return false, nil, nil
	}
	return false, existing, nil
}

func (l *PostgresLedger) load(ctx context.Context, key string) (*Record, error) {
	var (
		r           Record
		resultJSON  []byte
		errMsg      *string
		completedAt *time.Time
	)
	row := l.db.QueryRow(ctx, `SELECT idempotency_key, session_id, node_id, session_revision, status, result_data, error_message, created_at, completed_at
		FROM idempotency_records WHERE idempotency_key = $1`, key)
	if err := row.Scan(&r.Key, &r.SessionID, &r.NodeID, &r.SessionRevision, &r.Status, &resultJSON, &errMsg, &r.CreatedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("idempotency: load %s: %w", key, err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &r.ResultData); err != nil {
			return nil, fmt.Errorf("idempotency: unmarshal result for %s: %w", key, err)
		}
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	r.CompletedAt = completedAt
	return &r, nil
}

func (l *PostgresLedger) Complete(ctx context.Context, key string, success bool, resultData map[string]interface{}, errorMessage string) error {
	status := StatusSucceeded
	if !success {
		status = StatusFailed
	}
	resultJSON, err := json.Marshal(resultData)
	if err != nil {
		return fmt.Errorf("idempotency: marshal result: %w", err)
	}
	return l.db.Exec(ctx, `
		UPDATE idempotency_records
		SET status = $1, result_data = $2, error_message = $3, completed_at = $4
		WHERE idempotency_key = $5 AND status = $6`,
		status, resultJSON, nullableString(errorMessage), time.Now(), key, StatusInProgress)
}

func (l *PostgresLedger) ValidateRevision(ctx context.Context, sessionID string, taskRevision int64) (bool, error) {
	current, found, err := l.revision(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("idempotency: validate revision: %w", err)
	}
	if !found {
		return false, nil
	}
	return current == taskRevision, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
