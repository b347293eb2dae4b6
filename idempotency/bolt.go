package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var ledgerBucket = []byte("idempotency_records")

// BoltLedger is an embedded, file-backed Ledger for single-process
// deployments (flowrt --embedded, flowrt worker --embedded) that don't run a Postgres
// instance: a development/edge mode, not a clustered one, since bbolt
// locks its file to one process.
//
// Grounded on db/bolt.DB's bucket-of-JSON-values convention; records
// are stored JSON-encoded by key, the same shape PostgresLedger keeps
// in its table.
type BoltLedger struct {
	db       *bolt.DB
	revision RevisionReader
}

// OpenBoltLedger opens (creating if absent) a bbolt file at path and
// ensures the ledger bucket exists.
func OpenBoltLedger(path string, revision RevisionReader) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open bolt ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ledgerBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("idempotency: create bolt bucket: %w", err)
	}
	return &BoltLedger{db: db, revision: revision}, nil
}

// Close releases the underlying file lock.
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func (l *BoltLedger) Acquire(ctx context.Context, key, sessionID, nodeID string, sessionRevision int64) (acquired bool, existing *Record, err error) {
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		if data := b.Get([]byte(key)); data != nil {
			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("idempotency: decode record %s: %w", key, err)
			}
			if r.Status == StatusInProgress {
				acquired, existing = false, nil
				return nil
			}
			acquired, existing = false, &r
			return nil
		}

		r := Record{
			Key:             key,
			SessionID:       sessionID,
			NodeID:          nodeID,
			SessionRevision: sessionRevision,
			Status:          StatusInProgress,
			CreatedAt:       time.Now(),
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("idempotency: encode record %s: %w", key, err)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		acquired, existing = true, nil
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return acquired, existing, nil
}

func (l *BoltLedger) Complete(ctx context.Context, key string, success bool, resultData map[string]interface{}, errorMessage string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ledgerBucket)
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("idempotency: decode record %s: %w", key, err)
		}
		if r.Status != StatusInProgress {
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

		updated, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("idempotency: encode record %s: %w", key, err)
		}
		return b.Put([]byte(key), updated)
	})
}

func (l *BoltLedger) ValidateRevision(ctx context.Context, sessionID string, taskRevision int64) (bool, error) {
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
