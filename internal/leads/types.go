// Package leads exposes the minimal lead surface this engine reads and
// mutates: thread pre-linking and automated follow-up cancellation. Lead
// intake and pipeline management live elsewhere.
package leads

import "time"

// Follow-up automation state constants.
const (
	FollowupActive  = "active"
	FollowupStopped = "stopped"
)

// Lead links a contact to an in-progress piece of business.
type Lead struct {
	ID         string    `json:"id"`
	ContactID  string    `json:"contact_id"`
	PropertyID string    `json:"property_id,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AutomationState tracks an automated follow-up cadence for a lead on a
// channel.
type AutomationState struct {
	ID            string     `json:"id"`
	LeadID        string     `json:"lead_id"`
	Channel       string     `json:"channel"`
	FollowupState string     `json:"followup_state"`
	Step          int        `json:"step"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
