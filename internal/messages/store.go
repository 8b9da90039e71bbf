package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
)

const messageColumns = `id, thread_id, participant_id, direction, channel, subject, body, media_urls, status, provider, provider_message_id, from_address, to_address, metadata, created_at, updated_at`

// Store reads and writes messages and delivery events.
type Store struct {
	q dbpkg.Querier
}

// NewStore creates a message store over the given querier.
func NewStore(q dbpkg.Querier) *Store {
	return &Store{q: q}
}

// GetByProviderMessageID returns the message recorded under the given
// idempotency key, if any.
func (s *Store) GetByProviderMessageID(ctx context.Context, providerMessageID string) (Message, bool, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return Message{}, false, nil
	}
	row := s.q.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = $1`,
		providerMessageID)
	return scanMessage(row)
}

// Create inserts a message. The body placeholder rules apply here: an empty
// body becomes "Media message" when media is attached, "Message received"
// otherwise.
func (s *Store) Create(ctx context.Context, params CreateParams) (Message, error) {
	pgThreadID, err := dbpkg.ParseUUID(params.ThreadID)
	if err != nil {
		return Message{}, err
	}
	pgParticipantID, err := dbpkg.ParseOptionalUUID(params.ParticipantID)
	if err != nil {
		return Message{}, err
	}

	body := strings.TrimSpace(params.Body)
	if body == "" {
		if len(params.MediaURLs) > 0 {
			body = MediaPlaceholderBody
		} else {
			body = EmptyPlaceholderBody
		}
	}

	metaBytes, err := json.Marshal(nonNilMap(params.Metadata))
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}

	receivedAt := params.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	mediaURLs := params.MediaURLs
	if mediaURLs == nil {
		mediaURLs = []string{}
	}

	row := s.q.QueryRow(ctx,
		`INSERT INTO messages (thread_id, participant_id, direction, channel, subject, body, media_urls, status, provider, provider_message_id, from_address, to_address, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING `+messageColumns,
		pgThreadID, pgParticipantID, params.Direction, params.Channel,
		strings.TrimSpace(params.Subject), body, mediaURLs, StatusReceived,
		strings.TrimSpace(params.Provider), dbpkg.ToPgText(params.ProviderMessageID),
		strings.TrimSpace(params.FromAddress), strings.TrimSpace(params.ToAddress),
		metaBytes, pgtype.Timestamptz{Time: receivedAt, Valid: true})
	message, found, err := scanMessage(row)
	if err != nil {
		return Message{}, err
	}
	if !found {
		return Message{}, fmt.Errorf("message insert returned no row")
	}
	return message, nil
}

// RecordDeliveryEvent appends a status transition for a message.
func (s *Store) RecordDeliveryEvent(ctx context.Context, messageID, status string) (DeliveryEvent, error) {
	pgMessageID, err := dbpkg.ParseUUID(messageID)
	if err != nil {
		return DeliveryEvent{}, err
	}
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = s.q.QueryRow(ctx,
		`INSERT INTO delivery_events (message_id, status) VALUES ($1, $2) RETURNING id, created_at`,
		pgMessageID, status).Scan(&id, &createdAt)
	if err != nil {
		return DeliveryEvent{}, err
	}
	return DeliveryEvent{
		ID:        id.String(),
		MessageID: messageID,
		Status:    status,
		CreatedAt: createdAt.Time,
	}, nil
}

func scanMessage(row pgx.Row) (Message, bool, error) {
	var (
		id, threadID         pgtype.UUID
		participantID        pgtype.UUID
		direction, channel   string
		subject, body        string
		mediaURLs            []string
		status, provider     string
		providerMessageID    pgtype.Text
		fromAddr, toAddr     string
		metadata             []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &threadID, &participantID, &direction, &channel, &subject, &body, &mediaURLs, &status, &provider, &providerMessageID, &fromAddr, &toAddr, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return Message{
		ID:                id.String(),
		ThreadID:          threadID.String(),
		ParticipantID:     dbpkg.UUIDToString(participantID),
		Direction:         direction,
		Channel:           channel,
		Subject:           subject,
		Body:              body,
		MediaURLs:         mediaURLs,
		Status:            status,
		Provider:          provider,
		ProviderMessageID: dbpkg.TextToString(providerMessageID),
		FromAddress:       fromAddr,
		ToAddress:         toAddr,
		Metadata:          parseJSONMap(metadata),
		CreatedAt:         createdAt.Time,
		UpdatedAt:         updatedAt.Time,
	}, true, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func parseJSONMap(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("parseJSONMap: unmarshal failed", slog.Any("error", err))
	}
	return m
}
