package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

// Store reads and writes outbox rows.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates an outbox store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// Enqueue records one event for asynchronous dispatch.
func (s *Store) Enqueue(ctx context.Context, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO outbox_events (event_type, payload) VALUES ($1, $2)`,
		eventType, payloadBytes)
	return err
}

// ListPending returns undispatched events, oldest first. Rows are locked
// with SKIP LOCKED so concurrent relay instances never double-dispatch.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, event_type, payload, attempts, created_at, dispatched_at
		 FROM outbox_events
		 WHERE dispatched_at IS NULL
		 ORDER BY created_at
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			id           pgtype.UUID
			eventType    string
			payloadBytes []byte
			attempts     int32
			createdAt    pgtype.Timestamptz
			dispatchedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &eventType, &payloadBytes, &attempts, &createdAt, &dispatchedAt); err != nil {
			return nil, err
		}
		event := Event{
			ID:        id.String(),
			EventType: eventType,
			Attempts:  int(attempts),
			CreatedAt: createdAt.Time,
		}
		if len(payloadBytes) > 0 {
			_ = json.Unmarshal(payloadBytes, &event.Payload)
		}
		if dispatchedAt.Valid {
			at := dispatchedAt.Time
			event.DispatchedAt = &at
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkDispatched stamps the event as delivered to the broker.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE outbox_events SET dispatched_at = now(), attempts = attempts + 1 WHERE id = $1`,
		pgID)
	return err
}

// MarkFailed counts a failed dispatch attempt, leaving the row pending.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`,
		pgID)
	return err
}
