package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Store loads published (and draft) flow definitions by id. The
// engine uses it to resolve a session's flow and to resolve
// COMPOSITE child flows; the session package's FlowChecker is a
// narrower view of the same backing data.
type Store interface {
	GetByID(ctx context.Context, flowID string) (*FlowDefinition, error)

	// FlowPublished reports whether flowID exists and is published,
	// satisfying session.FlowChecker.
	FlowPublished(ctx context.Context, flowID string) (found, published bool, err error)
}

// MemoryStore is an in-memory Store, used by tests and by the engine
// tests that don't need Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]*FlowDefinition
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]*FlowDefinition)}
}

// Put registers def under its own ID, replacing any prior definition.
func (s *MemoryStore) Put(def *FlowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[def.ID] = def
}

func (s *MemoryStore) GetByID(ctx context.Context, flowID string) (*FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.flows[flowID]
	if !ok {
		return nil, nil
	}
	return def, nil
}

func (s *MemoryStore) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.flows[flowID]
	if !ok {
		return false, false, nil
	}
	return true, def.Published, nil
}

// DB is the minimal pgx surface PostgresStore needs, matching the
// session package's own DB interface.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresStore reads flow definitions from the `flows`, `flow_nodes`
// and `flow_connections` tables (spec §6.5's persistence layout).
// Node content is stored as a single JSONB column keyed by node type,
// decoded into the matching *Content field on read.
type PostgresStore struct {
	db DB
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	var published bool
	err := s.db.QueryRow(ctx, `SELECT published FROM flows WHERE id = $1`, flowID).Scan(&published)
	if err == pgx.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("flow: check published %s: %w", flowID, err)
	}
	return true, published, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, flowID string) (*FlowDefinition, error) {
	def := &FlowDefinition{ID: flowID}
	row := s.db.QueryRow(ctx, `SELECT name, version, published, entry_node_id FROM flows WHERE id = $1`, flowID)
	if err := row.Scan(&def.Name, &def.Version, &def.Published, &def.EntryNodeID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: load %s: %w", flowID, err)
	}

	nodes, err := s.loadNodes(ctx, flowID)
	if err != nil {
		return nil, err
	}
	def.Nodes = nodes

	conns, err := s.loadConnections(ctx, flowID)
	if err != nil {
		return nil, err
	}
	def.Connections = conns

	return def, nil
}

func (s *PostgresStore) loadNodes(ctx context.Context, flowID string) ([]Node, error) {
	rows, err := s.db.Query(ctx, `SELECT id, node_id, type, content FROM flow_nodes WHERE flow_id = $1`, flowID)
	if err != nil {
		return nil, fmt.Errorf("flow: load nodes %s: %w", flowID, err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var (
			id          int64
			nodeID      string
			nodeType    string
			contentJSON []byte
		)
		if err := rows.Scan(&id, &nodeID, &nodeType, &contentJSON); err != nil {
			return nil, fmt.Errorf("flow: scan node: %w", err)
		}
		n := Node{ID: id, NodeID: nodeID, FlowID: flowID, Type: NodeType(nodeType)}
		if err := decodeContent(&n, contentJSON); err != nil {
			return nil, fmt.Errorf("flow: decode node %s content: %w", nodeID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) loadConnections(ctx context.Context, flowID string) ([]Connection, error) {
	rows, err := s.db.Query(ctx, `SELECT id, source_node_id, target_node_id, connection_type, conditions FROM flow_connections WHERE flow_id = $1`, flowID)
	if err != nil {
		return nil, fmt.Errorf("flow: load connections %s: %w", flowID, err)
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var (
			id             int64
			source, target string
			connType       string
			conditionsJSON []byte
		)
		if err := rows.Scan(&id, &source, &target, &connType, &conditionsJSON); err != nil {
			return nil, fmt.Errorf("flow: scan connection: %w", err)
		}
		c := Connection{ID: id, SourceNodeID: source, TargetNodeID: target, ConnectionType: ConnectionType(connType)}
		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &c.Conditions); err != nil {
				return nil, fmt.Errorf("flow: decode connection conditions: %w", err)
			}
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// decodeContent unmarshals contentJSON into the *Content field
// matching n.Type.
func decodeContent(n *Node, contentJSON []byte) error {
	switch n.Type {
	case NodeMessage:
		n.Message = &MessageContent{}
		return json.Unmarshal(contentJSON, n.Message)
	case NodeQuestion:
		n.Question = &QuestionContent{}
		return json.Unmarshal(contentJSON, n.Question)
	case NodeCondition:
		n.Condition = &ConditionContent{}
		return json.Unmarshal(contentJSON, n.Condition)
	case NodeAction:
		n.Action = &ActionContent{}
		return json.Unmarshal(contentJSON, n.Action)
	case NodeWebhook:
		n.Webhook = &WebhookContent{}
		return json.Unmarshal(contentJSON, n.Webhook)
	case NodeComposite:
		n.Composite = &CompositeContent{}
		return json.Unmarshal(contentJSON, n.Composite)
	case NodeScript:
		n.Script = &ScriptContent{}
		return json.Unmarshal(contentJSON, n.Script)
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
}
