package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

const threadColumns = `id, contact_id, lead_id, property_id, channel, status, subject, last_message_preview, last_message_at, created_at, updated_at`

// Store reads and writes threads and participants.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates a thread store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// Get returns the thread by id.
func (s *Store) Get(ctx context.Context, id string) (Thread, bool, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Thread{}, false, err
	}
	row := s.q.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, pgID)
	return scanThread(row)
}

// Current returns the most recently active thread for (contact, channel),
// regardless of status. Ordering is last-message time then updated time,
// newest first, so resolution always lands on the thread a reply belongs to.
func (s *Store) Current(ctx context.Context, contactID, channel string) (Thread, bool, error) {
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Thread{}, false, err
	}
	row := s.q.QueryRow(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE contact_id = $1 AND channel = $2
		 ORDER BY last_message_at DESC NULLS LAST, updated_at DESC
		 LIMIT 1`,
		pgContactID, channel)
	return scanThread(row)
}

// Create inserts a new thread in open status.
func (s *Store) Create(ctx context.Context, params CreateParams) (Thread, error) {
	pgContactID, err := dbpkg.ParseUUID(params.ContactID)
	if err != nil {
		return Thread{}, err
	}
	pgLeadID, err := dbpkg.ParseOptionalUUID(params.LeadID)
	if err != nil {
		return Thread{}, err
	}
	pgPropertyID, err := dbpkg.ParseOptionalUUID(params.PropertyID)
	if err != nil {
		return Thread{}, err
	}
	row := s.q.QueryRow(ctx,
		`INSERT INTO threads (contact_id, lead_id, property_id, channel, status, subject)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+threadColumns,
		pgContactID, pgLeadID, pgPropertyID, params.Channel, StatusOpen, strings.TrimSpace(params.Subject))
	thread, found, err := scanThread(row)
	if err != nil {
		return Thread{}, err
	}
	if !found {
		return Thread{}, fmt.Errorf("thread insert returned no row")
	}
	return thread, nil
}

// Reopen transitions the thread to open status.
func (s *Store) Reopen(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE threads SET status = $1, updated_at = now() WHERE id = $2`,
		StatusOpen, pgID)
	return err
}

// TouchLastMessage updates the denormalized preview and last-message
// timestamp after a message insert.
func (s *Store) TouchLastMessage(ctx context.Context, id, preview string, at time.Time) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE threads
		 SET last_message_preview = $1, last_message_at = $2, updated_at = now()
		 WHERE id = $3`,
		TruncatePreview(preview), pgtype.Timestamptz{Time: at, Valid: true}, pgID)
	return err
}

// TruncatePreview bounds a message body to the denormalized preview length.
func TruncatePreview(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= PreviewLength {
		return body
	}
	return string(runes[:PreviewLength])
}

// ContactParticipant returns the contact-side participant for (thread, contact).
func (s *Store) ContactParticipant(ctx context.Context, threadID, contactID string) (Participant, bool, error) {
	pgThreadID, err := dbpkg.ParseUUID(threadID)
	if err != nil {
		return Participant{}, false, err
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Participant{}, false, err
	}
	row := s.q.QueryRow(ctx,
		`SELECT id, thread_id, participant_type, contact_id, team_member_id, display_name, external_address, created_at
		 FROM participants
		 WHERE thread_id = $1 AND contact_id = $2 AND participant_type = $3`,
		pgThreadID, pgContactID, ParticipantContact)
	return scanParticipant(row)
}

// CreateContactParticipant inserts the contact-side participant for a thread.
func (s *Store) CreateContactParticipant(ctx context.Context, threadID, contactID, displayName, externalAddress string) (Participant, error) {
	pgThreadID, err := dbpkg.ParseUUID(threadID)
	if err != nil {
		return Participant{}, err
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Participant{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "Contact"
	}
	row := s.q.QueryRow(ctx,
		`INSERT INTO participants (thread_id, participant_type, contact_id, display_name, external_address)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, thread_id, participant_type, contact_id, team_member_id, display_name, external_address, created_at`,
		pgThreadID, ParticipantContact, pgContactID, displayName, strings.TrimSpace(externalAddress))
	participant, found, err := scanParticipant(row)
	if err != nil {
		return Participant{}, err
	}
	if !found {
		return Participant{}, fmt.Errorf("participant insert returned no row")
	}
	return participant, nil
}

// BackfillExternalAddress records the participant's external address when a
// later message reveals one that was previously unknown. A recorded address
// is never replaced.
func (s *Store) BackfillExternalAddress(ctx context.Context, participantID, externalAddress string) error {
	externalAddress = strings.TrimSpace(externalAddress)
	if externalAddress == "" {
		return nil
	}
	pgID, err := dbpkg.ParseUUID(participantID)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE participants SET external_address = $1 WHERE id = $2 AND external_address = ''`,
		externalAddress, pgID)
	return err
}

// ContactIDByExternalAddress resolves a contact through participant history:
// the most recent contact-side participant on a thread of the given channel
// whose external address matches. This is how dm senders with opaque handles
// stay glued to one contact across conversations.
func (s *Store) ContactIDByExternalAddress(ctx context.Context, channel, externalAddress string) (string, bool, error) {
	externalAddress = strings.TrimSpace(externalAddress)
	if externalAddress == "" {
		return "", false, nil
	}
	var contactID pgtype.UUID
	err := s.q.QueryRow(ctx,
		`SELECT p.contact_id
		 FROM participants p
		 JOIN threads t ON t.id = p.thread_id
		 WHERE p.participant_type = $1 AND p.external_address = $2 AND t.channel = $3
		 ORDER BY p.created_at DESC
		 LIMIT 1`,
		ParticipantContact, externalAddress, channel).Scan(&contactID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !contactID.Valid {
		return "", false, nil
	}
	return contactID.String(), true, nil
}

func scanThread(row pgx.Row) (Thread, bool, error) {
	var (
		id, contactID        pgtype.UUID
		leadID, propertyID   pgtype.UUID
		channel, status      string
		subject, preview     string
		lastMessageAt        pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &contactID, &leadID, &propertyID, &channel, &status, &subject, &preview, &lastMessageAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, false, nil
	}
	if err != nil {
		return Thread{}, false, err
	}
	thread := Thread{
		ID:                 id.String(),
		ContactID:          contactID.String(),
		LeadID:             dbpkg.UUIDToString(leadID),
		PropertyID:         dbpkg.UUIDToString(propertyID),
		Channel:            channel,
		Status:             status,
		Subject:            subject,
		LastMessagePreview: preview,
		CreatedAt:          createdAt.Time,
		UpdatedAt:          updatedAt.Time,
	}
	if lastMessageAt.Valid {
		at := lastMessageAt.Time
		thread.LastMessageAt = &at
	}
	return thread, true, nil
}

func scanParticipant(row pgx.Row) (Participant, bool, error) {
	var (
		id, threadID            pgtype.UUID
		participantType         string
		contactID, teamMemberID pgtype.UUID
		displayName, address    string
		createdAt               pgtype.Timestamptz
	)
	err := row.Scan(&id, &threadID, &participantType, &contactID, &teamMemberID, &displayName, &address, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, false, nil
	}
	if err != nil {
		return Participant{}, false, err
	}
	return Participant{
		ID:              id.String(),
		ThreadID:        threadID.String(),
		Type:            participantType,
		ContactID:       dbpkg.UUIDToString(contactID),
		TeamMemberID:    dbpkg.UUIDToString(teamMemberID),
		DisplayName:     displayName,
		ExternalAddress: address,
		CreatedAt:       createdAt.Time,
	}, true, nil
}
