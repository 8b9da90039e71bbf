// Package audit provides the append-only audit-log sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

// Store appends audit-log entries.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates an audit store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// Record appends one audit entry. entityID may be empty.
func (s *Store) Record(ctx context.Context, actor, action, entityType, entityID string, meta map[string]any) error {
	pgEntityID, err := dbpkg.ParseOptionalUUID(entityID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO audit_logs (actor, action, entity_type, entity_id, meta) VALUES ($1, $2, $3, $4, $5)`,
		actor, action, entityType, pgEntityID, metaBytes)
	return err
}
