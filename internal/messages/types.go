// Package messages defines the message and delivery-event models and their
// store.
package messages

import "time"

// Message direction constants.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionInternal = "internal"
)

// Delivery status constants.
const (
	StatusReceived  = "received"
	StatusDelivered = "delivered"
)

// Placeholder bodies used when a message arrives without text.
const (
	MediaPlaceholderBody = "Media message"
	EmptyPlaceholderBody = "Message received"
)

// Message is one communication unit inside a thread.
type Message struct {
	ID                string         `json:"id"`
	ThreadID          string         `json:"thread_id"`
	ParticipantID     string         `json:"participant_id,omitempty"`
	Direction         string         `json:"direction"`
	Channel           string         `json:"channel"`
	Subject           string         `json:"subject,omitempty"`
	Body              string         `json:"body"`
	MediaURLs         []string       `json:"media_urls,omitempty"`
	Status            string         `json:"status"`
	Provider          string         `json:"provider,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	FromAddress       string         `json:"from_address,omitempty"`
	ToAddress         string         `json:"to_address,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// DeliveryEvent is an append-only record of a status transition for a message.
type DeliveryEvent struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateParams is the input for Store.Create.
type CreateParams struct {
	ThreadID          string
	ParticipantID     string
	Direction         string
	Channel           string
	Subject           string
	Body              string
	MediaURLs         []string
	Provider          string
	ProviderMessageID string
	FromAddress       string
	ToAddress         string
	Metadata          map[string]any
	ReceivedAt        time.Time
}
