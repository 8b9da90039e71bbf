// Package contacts defines the contact domain model and its store.
package contacts

import (
	"strings"
	"time"
)

// PlaceholderName is the name given to contacts created without any
// identity signal.
const PlaceholderName = "Unknown Contact"

// Contact is a person the business communicates with.
type Contact struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	PhoneE164 string    `json:"phone_e164,omitempty"`
	Source    string    `json:"source,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns "First Last" with surrounding whitespace trimmed.
func (c Contact) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// HasPlaceholderName reports whether the contact's name is still the generic
// placeholder or a channel-generated numeric handle, and may therefore be
// replaced by a learned name.
func (c Contact) HasPlaceholderName() bool {
	name := c.FullName()
	if name == "" || name == PlaceholderName {
		return true
	}
	return isNumericHandle(name)
}

func isNumericHandle(name string) bool {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '+', '(', ')', '.':
			return -1
		}
		return r
	}, name)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CreateParams is the input for Store.Create.
type CreateParams struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	PhoneE164 string
	Source    string
}

// IdentityPatch carries freshly discovered identity fields to merge onto an
// existing contact. Only fields the contact is missing are applied.
type IdentityPatch struct {
	Email     string
	Phone     string
	PhoneE164 string
}
