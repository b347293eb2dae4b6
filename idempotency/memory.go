package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger used by unit tests and by the
// task package's own tests; it mirrors PostgresLedger's semantics
// without a database.
type MemoryLedger struct {
	mu       sync.Mutex
	records  map[string]*Record
	revision RevisionReader
}

// NewMemoryLedger builds an empty MemoryLedger. revision may be nil if
// the caller never calls ValidateRevision.
func NewMemoryLedger(revision RevisionReader) *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*Record), revision: revision}
}

func (l *MemoryLedger) Acquire(ctx context.Context, key, sessionID, nodeID string, sessionRevision int64) (bool, *Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.records[key]
	if !ok {
		l.records[key] = &Record{
			Key:             key,
			SessionID:       sessionID,
			NodeID:          nodeID,
			SessionRevision: sessionRevision,
			Status:          StatusInProgress,
			CreatedAt:       time.Now(),
		}
		return true, nil, nil
	}
	if existing.Status == StatusInProgress {
		return false, nil, nil
	}
	return false, copyRecord(existing), nil
}

func (l *MemoryLedger) Complete(ctx context.Context, key string, success bool, resultData map[string]interface{}, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok || r.Status != StatusInProgress {
		return nil
	}
	now := time.Now()
	if success {
		r.Status = StatusSucceeded
		r.ResultData = resultData
	} else {
		r.Status = StatusFailed
		r.ErrorMessage = errorMessage
	}
	r.CompletedAt = &now
	return nil
}

func (l *MemoryLedger) ValidateRevision(ctx context.Context, sessionID string, taskRevision int64) (bool, error) {
	if l.revision == nil {
		return true, nil
	}
	current, found, err := l.revision(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return current == taskRevision, nil
}

func copyRecord(r *Record) *Record {
	cp := *r
	if r.ResultData != nil {
		cp.ResultData = make(map[string]interface{}, len(r.ResultData))
		for k, v := range r.ResultData {
			cp.ResultData[k] = v
		}
	}
	return &cp
}
