package leads

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

// Store reads and mutates leads and their automation state.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates a lead store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// LatestForContact returns the contact's most recently updated lead, used to
// pre-link a fresh thread to business context.
func (s *Store) LatestForContact(ctx context.Context, contactID string) (Lead, bool, error) {
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Lead{}, false, err
	}
	var (
		id, cID              pgtype.UUID
		propertyID           pgtype.UUID
		status               string
		createdAt, updatedAt pgtype.Timestamptz
	)
	err = s.q.QueryRow(ctx,
		`SELECT id, contact_id, property_id, status, created_at, updated_at
		 FROM leads
		 WHERE contact_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		pgContactID).Scan(&id, &cID, &propertyID, &status, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, false, nil
	}
	if err != nil {
		return Lead{}, false, err
	}
	return Lead{
		ID:         id.String(),
		ContactID:  cID.String(),
		PropertyID: dbpkg.UUIDToString(propertyID),
		Status:     status,
		CreatedAt:  createdAt.Time,
		UpdatedAt:  updatedAt.Time,
	}, true, nil
}

// StopAutomation halts every follow-up cadence for the lead: state stopped,
// step reset, scheduled next run cleared. A human reply supersedes
// automation.
func (s *Store) StopAutomation(ctx context.Context, leadID string) error {
	pgLeadID, err := dbpkg.ParseUUID(leadID)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE lead_automation_states
		 SET followup_state = $1, step = 0, next_run_at = NULL, updated_at = now()
		 WHERE lead_id = $2`,
		FollowupStopped, pgLeadID)
	return err
}

// DeleteQueuedFollowups removes not-yet-processed follow-up work items for
// the lead and returns how many were removed.
func (s *Store) DeleteQueuedFollowups(ctx context.Context, leadID string) (int64, error) {
	pgLeadID, err := dbpkg.ParseUUID(leadID)
	if err != nil {
		return 0, err
	}
	tag, err := s.q.Exec(ctx,
		`DELETE FROM followup_jobs WHERE lead_id = $1 AND processed_at IS NULL`,
		pgLeadID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
