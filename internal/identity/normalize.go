// Package identity canonicalizes raw sender addresses per channel and
// extracts best-effort contact facts from free text.
package identity

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhone indicates a channel required a parseable phone number and
// none was found.
var ErrInvalidPhone = errors.New("invalid phone number")

// Address is a canonicalized sender address.
type Address struct {
	// Raw preserves the address exactly as the provider supplied it.
	Raw string
	// E164 is the canonical phone form for sms/call senders.
	E164 string
	// Email is the normalized address for email senders.
	Email string
	// DisplayName is a name hint extracted from an email display part.
	DisplayName string
	// Opaque is the platform handle for dm/web senders.
	Opaque string
}

// NormalizePhone parses and validates a phone number against the default
// region, returning its E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidPhone
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// NormalizeEmail lowercases and trims an email address, splitting a
// "Display Name <addr>" form when present. The display name is a hint only.
func NormalizeEmail(raw string) (address, displayName string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if parsed, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(strings.TrimSpace(parsed.Address)), strings.TrimSpace(parsed.Name)
	}
	return strings.ToLower(raw), ""
}

// SplitName divides a display name into first and last parts at the first
// space.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	first = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		last = strings.TrimSpace(parts[1])
	}
	return first, last
}
