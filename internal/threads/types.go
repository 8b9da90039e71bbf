// Package threads defines conversation threads and their participants.
package threads

import "time"

// Thread status constants.
const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

// Participant type constants.
const (
	ParticipantContact = "contact"
	ParticipantTeam    = "team"
)

// PreviewLength bounds the denormalized last-message preview.
const PreviewLength = 160

// Thread is one ongoing dialogue between the business and a contact over
// one channel.
type Thread struct {
	ID                 string     `json:"id"`
	ContactID          string     `json:"contact_id"`
	LeadID             string     `json:"lead_id,omitempty"`
	PropertyID         string     `json:"property_id,omitempty"`
	Channel            string     `json:"channel"`
	Status             string     `json:"status"`
	Subject            string     `json:"subject,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Participant is a named party inside a thread.
type Participant struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"thread_id"`
	Type            string    `json:"participant_type"`
	ContactID       string    `json:"contact_id,omitempty"`
	TeamMemberID    string    `json:"team_member_id,omitempty"`
	DisplayName     string    `json:"display_name"`
	ExternalAddress string    `json:"external_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateParams is the input for Store.Create.
type CreateParams struct {
	ContactID  string
	LeadID     string
	PropertyID string
	Channel    string
	Subject    string
}
