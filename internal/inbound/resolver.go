package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsdeskhq/opsdesk/internal/contacts"
	"github.com/opsdeskhq/opsdesk/internal/identity"
)

// senderProfile is everything known about the sender after normalization
// and fact extraction, before any storage lookup.
type senderProfile struct {
	channel   Channel
	address   identity.Address
	hintEmail string
	hintPhone string
	hintE164  string
	facts     identity.Facts
	nameFirst string
	nameLast  string
}

// externalAddress is the channel-specific address recorded on the
// participant.
func (p senderProfile) externalAddress() string {
	switch p.channel {
	case ChannelSMS, ChannelCall:
		return p.address.E164
	case ChannelEmail:
		return p.address.Email
	default:
		return p.address.Opaque
	}
}

type outcome int

const (
	outcomeMatched outcome = iota
	outcomeNoMatch
	outcomeSkipped
)

// strategy is one named contact-resolution step. Strategies either match a
// contact, report no match, or skip when their inputs are absent.
type strategy struct {
	name string
	run  func(ctx context.Context, st Stores) (contacts.Contact, outcome, error)
}

// strategiesFor returns the ordered resolution chain for the sender's
// channel. For dm, participant history runs before supplied hints: a prior
// external-address mapping is the strongest signal that an opaque handle
// belongs to a known contact. web has no stable external address, so its
// chain starts at the hints.
func (s *Service) strategiesFor(p senderProfile) []strategy {
	switch p.channel {
	case ChannelSMS, ChannelCall:
		return []strategy{phoneLookup("phone", p.address.E164, p.address.Raw)}
	case ChannelEmail:
		return []strategy{emailLookup("email", p.address.Email)}
	case ChannelDM:
		return []strategy{
			participantHistory(p.channel, p.address.Opaque),
			emailLookup("hint_email", p.hintEmail),
			phoneLookup("hint_phone", p.hintE164, p.hintPhone),
			emailLookup("fact_email", p.facts.Email),
			phoneLookup("fact_phone", p.facts.PhoneE164, p.facts.Phone),
		}
	case ChannelWeb:
		return []strategy{
			emailLookup("hint_email", p.hintEmail),
			phoneLookup("hint_phone", p.hintE164, p.hintPhone),
			emailLookup("fact_email", p.facts.Email),
			phoneLookup("fact_phone", p.facts.PhoneE164, p.facts.Phone),
		}
	}
	return nil
}

func phoneLookup(name, e164, raw string) strategy {
	return strategy{
		name: name,
		run: func(ctx context.Context, st Stores) (contacts.Contact, outcome, error) {
			if strings.TrimSpace(e164) == "" {
				return contacts.Contact{}, outcomeSkipped, nil
			}
			contact, found, err := st.Contacts().GetByPhone(ctx, e164, raw)
			if err != nil {
				return contacts.Contact{}, outcomeNoMatch, err
			}
			if !found {
				return contacts.Contact{}, outcomeNoMatch, nil
			}
			return contact, outcomeMatched, nil
		},
	}
}

func emailLookup(name, email string) strategy {
	return strategy{
		name: name,
		run: func(ctx context.Context, st Stores) (contacts.Contact, outcome, error) {
			if strings.TrimSpace(email) == "" {
				return contacts.Contact{}, outcomeSkipped, nil
			}
			contact, found, err := st.Contacts().GetByEmail(ctx, email)
			if err != nil {
				return contacts.Contact{}, outcomeNoMatch, err
			}
			if !found {
				return contacts.Contact{}, outcomeNoMatch, nil
			}
			return contact, outcomeMatched, nil
		},
	}
}

func participantHistory(channel Channel, externalAddress string) strategy {
	return strategy{
		name: "participant_history",
		run: func(ctx context.Context, st Stores) (contacts.Contact, outcome, error) {
			if strings.TrimSpace(externalAddress) == "" {
				return contacts.Contact{}, outcomeSkipped, nil
			}
			contactID, found, err := st.Threads().ContactIDByExternalAddress(ctx, channel.String(), externalAddress)
			if err != nil {
				return contacts.Contact{}, outcomeNoMatch, err
			}
			if !found {
				return contacts.Contact{}, outcomeNoMatch, nil
			}
			contact, found, err := st.Contacts().Get(ctx, contactID)
			if err != nil {
				return contacts.Contact{}, outcomeNoMatch, err
			}
			if !found {
				return contacts.Contact{}, outcomeNoMatch, nil
			}
			return contact, outcomeMatched, nil
		},
	}
}

// resolveContact walks the channel's strategy chain and returns the first
// match, merging freshly discovered identity onto it. When every strategy
// misses, a new contact is created from whatever identity was discovered.
func (s *Service) resolveContact(ctx context.Context, st Stores, p senderProfile) (contacts.Contact, error) {
	for _, strat := range s.strategiesFor(p) {
		contact, result, err := strat.run(ctx, st)
		if err != nil {
			return contacts.Contact{}, fmt.Errorf("resolve contact (%s): %w", strat.name, err)
		}
		if result != outcomeMatched {
			continue
		}
		s.logger.Debug("contact resolved",
			slog.String("strategy", strat.name),
			slog.String("contact_id", contact.ID),
			slog.String("channel", p.channel.String()),
		)
		return s.mergeDiscovered(ctx, st, contact, p)
	}
	return s.createContact(ctx, st, p)
}

// mergeDiscovered backfills missing identity fields on a matched contact.
// Populated fields are never overwritten, and a backfill that would collide
// with another contact's unique email/phone is skipped, not surfaced.
func (s *Service) mergeDiscovered(ctx context.Context, st Stores, contact contacts.Contact, p senderProfile) (contacts.Contact, error) {
	patch := contacts.IdentityPatch{}
	if email := firstNonEmpty(p.address.Email, p.hintEmail, p.facts.Email); email != "" && contact.Email == "" {
		patch.Email = email
	}
	if e164 := firstNonEmpty(p.address.E164, p.hintE164, p.facts.PhoneE164); e164 != "" && contact.PhoneE164 == "" {
		patch.PhoneE164 = e164
		patch.Phone = firstNonEmpty(p.address.Raw, p.hintPhone, p.facts.Phone)
	}
	if patch != (contacts.IdentityPatch{}) {
		updated, err := st.Contacts().FillIdentity(ctx, contact.ID, patch)
		if err != nil {
			return contacts.Contact{}, fmt.Errorf("backfill contact identity: %w", err)
		}
		contact = updated
	}

	if p.nameFirst != "" && contact.HasPlaceholderName() {
		if err := st.Contacts().ReplacePlaceholderName(ctx, contact.ID, p.nameFirst, p.nameLast); err != nil {
			return contacts.Contact{}, fmt.Errorf("replace placeholder name: %w", err)
		}
		contact.FirstName, contact.LastName = p.nameFirst, p.nameLast
	}

	if err := s.notePostalCode(ctx, st, contact.ID, p.facts.PostalCode); err != nil {
		return contacts.Contact{}, err
	}
	return contact, nil
}

func (s *Service) createContact(ctx context.Context, st Stores, p senderProfile) (contacts.Contact, error) {
	params := contacts.CreateParams{
		FirstName: p.nameFirst,
		LastName:  p.nameLast,
		Source:    p.channel.String(),
	}
	switch p.channel {
	case ChannelSMS, ChannelCall:
		params.Phone = p.address.Raw
		params.PhoneE164 = p.address.E164
	case ChannelEmail:
		params.Email = p.address.Email
	default:
		// dm/web: seed with whatever partial identity was discovered; an
		// anonymous placeholder is acceptable.
		params.Email = firstNonEmpty(p.hintEmail, p.facts.Email)
		params.PhoneE164 = firstNonEmpty(p.hintE164, p.facts.PhoneE164)
		params.Phone = firstNonEmpty(p.hintPhone, p.facts.Phone)
	}

	contact, err := st.Contacts().Create(ctx, params)
	if err != nil {
		return contacts.Contact{}, fmt.Errorf("%w: %w", ErrContactCreateFailed, err)
	}
	if contact.ID == "" {
		return contacts.Contact{}, ErrContactCreateFailed
	}
	s.logger.Debug("contact created",
		slog.String("contact_id", contact.ID),
		slog.String("channel", p.channel.String()),
	)
	if err := s.notePostalCode(ctx, st, contact.ID, p.facts.PostalCode); err != nil {
		return contacts.Contact{}, err
	}
	return contact, nil
}

func (s *Service) notePostalCode(ctx context.Context, st Stores, contactID, postalCode string) error {
	postalCode = strings.TrimSpace(postalCode)
	if postalCode == "" {
		return nil
	}
	if err := st.Contacts().AppendNote(ctx, contactID, "ZIP: "+postalCode); err != nil {
		return fmt.Errorf("append postal code note: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
