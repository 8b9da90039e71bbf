package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

const contactColumns = `id, first_name, last_name, email, phone, phone_e164, source, notes, created_at, updated_at`

// Store reads and writes contacts through a pgx querier. Bind it to a
// transaction to make lookups and creates part of one atomic unit.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates a contact store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// Get returns the contact by id.
func (s *Store) Get(ctx context.Context, id string) (Contact, bool, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Contact{}, false, err
	}
	row := s.q.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, pgID)
	return scanContact(row)
}

// GetByPhone returns the contact whose stored phone matches either the
// canonical E.164 form or the raw form of the number.
func (s *Store) GetByPhone(ctx context.Context, e164, raw string) (Contact, bool, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE phone_e164 = $1 OR ($2 <> '' AND phone = $2)
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		e164, strings.TrimSpace(raw))
	return scanContact(row)
}

// GetByEmail returns the contact with the given normalized email.
func (s *Store) GetByEmail(ctx context.Context, email string) (Contact, bool, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE lower(email) = lower($1)
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		strings.TrimSpace(email))
	return scanContact(row)
}

// Create inserts a new contact.
func (s *Store) Create(ctx context.Context, params CreateParams) (Contact, error) {
	first := strings.TrimSpace(params.FirstName)
	last := strings.TrimSpace(params.LastName)
	if first == "" && last == "" {
		first = PlaceholderName
	}
	row := s.q.QueryRow(ctx,
		`INSERT INTO contacts (first_name, last_name, email, phone, phone_e164, source)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+contactColumns,
		first, last,
		dbpkg.ToPgText(strings.ToLower(strings.TrimSpace(params.Email))),
		dbpkg.ToPgText(params.Phone),
		dbpkg.ToPgText(params.PhoneE164),
		strings.TrimSpace(params.Source))
	contact, found, err := scanContact(row)
	if err != nil {
		return Contact{}, err
	}
	if !found {
		return Contact{}, fmt.Errorf("contact insert returned no row")
	}
	return contact, nil
}

// FillIdentity applies an identity patch to a contact, filling only fields
// that are currently NULL. Each update is guarded against uniqueness
// collisions with another contact: if the discovered value already belongs
// elsewhere, the fill is skipped rather than failing the caller. The partial
// unique indexes remain the backstop for a true write race.
func (s *Store) FillIdentity(ctx context.Context, id string, patch IdentityPatch) (Contact, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Contact{}, err
	}

	if email := strings.ToLower(strings.TrimSpace(patch.Email)); email != "" {
		_, err := s.q.Exec(ctx,
			`UPDATE contacts SET email = $1, updated_at = now()
			 WHERE id = $2 AND email IS NULL
			   AND NOT EXISTS (SELECT 1 FROM contacts WHERE lower(email) = $1 AND id <> $2)`,
			email, pgID)
		if err != nil {
			return Contact{}, fmt.Errorf("fill email: %w", err)
		}
	}

	if e164 := strings.TrimSpace(patch.PhoneE164); e164 != "" {
		_, err := s.q.Exec(ctx,
			`UPDATE contacts SET phone_e164 = $1, phone = COALESCE(NULLIF($3, ''), phone), updated_at = now()
			 WHERE id = $2 AND phone_e164 IS NULL
			   AND NOT EXISTS (SELECT 1 FROM contacts WHERE phone_e164 = $1 AND id <> $2)`,
			e164, pgID, strings.TrimSpace(patch.Phone))
		if err != nil {
			return Contact{}, fmt.Errorf("fill phone: %w", err)
		}
	}

	contact, found, err := s.Get(ctx, id)
	if err != nil {
		return Contact{}, err
	}
	if !found {
		return Contact{}, fmt.Errorf("contact %s disappeared during backfill", id)
	}
	return contact, nil
}

// ReplacePlaceholderName sets the contact's name, but only when the current
// name is still a placeholder. Real names are never overwritten.
func (s *Store) ReplacePlaceholderName(ctx context.Context, id, first, last string) error {
	contact, found, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found || !contact.HasPlaceholderName() {
		return nil
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE contacts SET first_name = $1, last_name = $2, updated_at = now() WHERE id = $3`,
		strings.TrimSpace(first), strings.TrimSpace(last), pgID)
	return err
}

// AppendNote appends a line to the contact's pipeline notes unless the notes
// already contain it.
func (s *Store) AppendNote(ctx context.Context, id, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`UPDATE contacts
		 SET notes = CASE WHEN notes = '' THEN $1 ELSE notes || E'\n' || $1 END,
		     updated_at = now()
		 WHERE id = $2 AND position($1 IN notes) = 0`,
		note, pgID)
	return err
}

func scanContact(row pgx.Row) (Contact, bool, error) {
	var (
		id                   pgtype.UUID
		firstName, lastName  string
		email, phone, e164   pgtype.Text
		source, notes        string
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &firstName, &lastName, &email, &phone, &e164, &source, &notes, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return Contact{
		ID:        id.String(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     dbpkg.TextToString(email),
		Phone:     dbpkg.TextToString(phone),
		PhoneE164: dbpkg.TextToString(e164),
		Source:    source,
		Notes:     notes,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}, true, nil
}
