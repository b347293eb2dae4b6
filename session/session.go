// Package session implements the flow runtime's session repository
// (spec component C4): durable ConversationSession records under
// optimistic concurrency on a monotonic revision counter, deep-merge
// state updates, synchronous history append, and flow_events
// publication on every committed change.
//
// The CAS shape ("read current revision, conditionally write") is
// grounded on the teacher's semantic/runtime/repository.go, which
// does the same thing against CouchDB's string _rev; here it is
// translated to Postgres's integer revision column and a SQL
// `WHERE revision = $expected` guard, the way db/postgres_pgx.go's
// pool wrapper is used directly rather than through an ORM.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// Status is the closed set of session lifecycle states.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Session is a ConversationSession row (spec §3).
type Session struct {
	ID            string
	Token         string // 32-byte URL-safe, cookie-scoped
	FlowID        string
	UserID        string // empty for anonymous sessions
	State         map[string]interface{}
	CurrentNodeID string
	Revision      int64
	Status        Status
	StartedAt     time.Time
	LastActivity  time.Time
	EndedAt       *time.Time
}

// InteractionType is the closed set of ConversationHistory entry
// kinds.
type InteractionType string

const (
	InteractionMessage InteractionType = "MESSAGE"
	InteractionInput   InteractionType = "INPUT"
	InteractionAction  InteractionType = "ACTION"
)

// HistoryEntry is one append-only ConversationHistory row.
type HistoryEntry struct {
	ID              int64
	SessionID       string
	NodeID          string
	InteractionType InteractionType
	Content         map[string]interface{}
	CreatedAt       time.Time
}

// NewToken generates a 32-byte URL-safe session token, the same
// entropy source the original uses for secrets.token_urlsafe(32).
func NewToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// IsTerminal reports whether status permits no further writes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}
