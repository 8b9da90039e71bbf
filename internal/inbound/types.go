// Package inbound implements the inbound message ingestion and
// conversation-resolution engine: channel-aware contact resolution, thread
// and participant lifecycle, idempotent message recording, and the
// side-effect fan-out around it.
package inbound

import (
	"errors"
	"time"
)

// Channel identifies the medium an inbound message arrived on.
type Channel string

// Supported channels.
const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelDM    Channel = "dm"
	ChannelCall  Channel = "call"
	ChannelWeb   Channel = "web"
)

// String returns the channel as a plain string.
func (c Channel) String() string {
	return string(c)
}

// Valid reports whether the channel is one this engine handles.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelDM, ChannelCall, ChannelWeb:
		return true
	}
	return false
}

// RequiresPhone reports whether the channel's sender address must parse as a
// phone number.
func (c Channel) RequiresPhone() bool {
	return c == ChannelSMS || c == ChannelCall
}

// Engine error taxonomy. All are fatal and abort the transaction; identity
// backfill conflicts and duplicate provider messages are not errors.
var (
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrInvalidPhone        = errors.New("invalid phone number for channel")
	ErrContactMissing      = errors.New("contact could not be resolved or created")
	ErrContactCreateFailed = errors.New("contact create failed")
	ErrThreadCreateFailed  = errors.New("thread create failed")
	ErrMessageCreateFailed = errors.New("message create failed")
)

// Input is one raw inbound communication from any channel.
type Input struct {
	Channel           Channel        `json:"channel"`
	Body              string         `json:"body"`
	Subject           string         `json:"subject,omitempty"`
	FromAddress       string         `json:"from_address"`
	ToAddress         string         `json:"to_address,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	MediaURLs         []string       `json:"media_urls,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	ReceivedAt        time.Time      `json:"received_at,omitempty"`
	SenderName        string         `json:"sender_name,omitempty"`
	// ContactPhone and ContactEmail are structured hints supplied alongside
	// dm/web submissions whose sender address is only an opaque handle.
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// Result identifies what an inbound recording resolved to. Duplicate marks
// a redelivered provider message: the identifiers are those of the original
// recording and no side effects ran.
type Result struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	ContactID string `json:"contact_id"`
	LeadID    string `json:"lead_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}
