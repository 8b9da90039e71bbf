package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsdeskhq/opsdesk/internal/contacts"
	dbpkg "github.com/opsdeskhq/opsdesk/internal/db"
	"github.com/opsdeskhq/opsdesk/internal/identity"
	"github.com/opsdeskhq/opsdesk/internal/messages"
	"github.com/opsdeskhq/opsdesk/internal/outbox"
	"github.com/opsdeskhq/opsdesk/internal/threads"
)

const auditActionMessageReceived = "message.received"

// Service is the inbound recording engine. One call to RecordInboundMessage
// handles one physical delivery from a provider.
type Service struct {
	tx          TxRunner
	automation  AutomationStopper
	outboxQueue OutboxEnqueuer
	auditLog    AuditSink
	extractor   identity.Extractor
	logger      *slog.Logger
	phoneRegion string
}

// NewService creates the inbound engine.
func NewService(
	log *slog.Logger,
	tx TxRunner,
	automation AutomationStopper,
	outboxQueue OutboxEnqueuer,
	auditLog AuditSink,
	extractor identity.Extractor,
	phoneRegion string,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(phoneRegion) == "" {
		phoneRegion = "US"
	}
	return &Service{
		tx:          tx,
		automation:  automation,
		outboxQueue: outboxQueue,
		auditLog:    auditLog,
		extractor:   extractor,
		logger:      log.With(slog.String("service", "inbound")),
		phoneRegion: phoneRegion,
	}
}

// RecordInboundMessage atomically resolves the sender to a contact, attaches
// the message to its current thread, and records it idempotently by provider
// message id. Side effects (automation cancellation, outbox event, audit
// entry) run after the transaction commits and only for non-duplicates.
func (s *Service) RecordInboundMessage(ctx context.Context, input Input) (Result, error) {
	if !input.Channel.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownChannel, input.Channel)
	}
	profile, err := s.buildProfile(input)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		return s.record(ctx, st, input, profile, &result)
	})
	if err != nil {
		// A unique violation on the provider message id means a concurrent
		// delivery of the same message won the race; resolve it as the
		// duplicate it is.
		if strings.TrimSpace(input.ProviderMessageID) != "" && dbpkg.IsUniqueViolation(err) {
			if dup, found, lookupErr := s.lookupDuplicate(ctx, input.ProviderMessageID); lookupErr == nil && found {
				return dup, nil
			}
		}
		return Result{}, err
	}

	if !result.Duplicate {
		s.fanOut(ctx, input, result)
	}
	return result, nil
}

// buildProfile normalizes the sender address for the channel and, for
// dm/web senders without structured hints, extracts best-effort facts from
// the body.
func (s *Service) buildProfile(input Input) (senderProfile, error) {
	profile := senderProfile{
		channel: input.Channel,
		address: identity.Address{Raw: strings.TrimSpace(input.FromAddress)},
	}

	switch input.Channel {
	case ChannelSMS, ChannelCall:
		e164, err := identity.NormalizePhone(input.FromAddress, s.phoneRegion)
		if err != nil {
			return senderProfile{}, fmt.Errorf("%w: %q", ErrInvalidPhone, strings.TrimSpace(input.FromAddress))
		}
		profile.address.E164 = e164
	case ChannelEmail:
		address, displayName := identity.NormalizeEmail(input.FromAddress)
		profile.address.Email = address
		profile.address.DisplayName = displayName
	default:
		profile.address.Opaque = profile.address.Raw
	}

	if email := strings.TrimSpace(input.ContactEmail); email != "" {
		profile.hintEmail, _ = identity.NormalizeEmail(email)
	}
	if phone := strings.TrimSpace(input.ContactPhone); phone != "" {
		// A malformed hint is dropped, not fatal: hints are enrichment.
		if e164, err := identity.NormalizePhone(phone, s.phoneRegion); err == nil {
			profile.hintPhone = phone
			profile.hintE164 = e164
		}
	}

	if (input.Channel == ChannelDM || input.Channel == ChannelWeb) &&
		profile.hintEmail == "" && profile.hintE164 == "" && s.extractor != nil {
		profile.facts = s.extractor.Extract(input.Body)
	}

	name := firstNonEmpty(input.SenderName, profile.address.DisplayName)
	if name != "" {
		profile.nameFirst, profile.nameLast = identity.SplitName(name)
	} else {
		profile.nameFirst, profile.nameLast = profile.facts.FirstName, profile.facts.LastName
	}
	return profile, nil
}

func (s *Service) record(ctx context.Context, st Stores, input Input, p senderProfile, out *Result) error {
	if pmid := strings.TrimSpace(input.ProviderMessageID); pmid != "" {
		existing, found, err := st.Messages().GetByProviderMessageID(ctx, pmid)
		if err != nil {
			return fmt.Errorf("idempotency lookup: %w", err)
		}
		if found {
			thread, _, err := st.Threads().Get(ctx, existing.ThreadID)
			if err != nil {
				return err
			}
			*out = Result{
				ThreadID:  existing.ThreadID,
				MessageID: existing.ID,
				ContactID: thread.ContactID,
				LeadID:    thread.LeadID,
				Duplicate: true,
			}
			return nil
		}
	}

	contact, err := s.resolveContact(ctx, st, p)
	if err != nil {
		return err
	}
	if contact.ID == "" {
		return ErrContactMissing
	}

	thread, err := s.resolveThread(ctx, st, contact.ID, input, p)
	if err != nil {
		return err
	}

	participant, err := s.ensureParticipant(ctx, st, thread.ID, contact, p)
	if err != nil {
		return err
	}

	message, err := st.Messages().Create(ctx, messages.CreateParams{
		ThreadID:          thread.ID,
		ParticipantID:     participant.ID,
		Direction:         messages.DirectionInbound,
		Channel:           input.Channel.String(),
		Subject:           input.Subject,
		Body:              input.Body,
		MediaURLs:         input.MediaURLs,
		Provider:          input.Provider,
		ProviderMessageID: input.ProviderMessageID,
		FromAddress:       input.FromAddress,
		ToAddress:         input.ToAddress,
		Metadata:          input.Metadata,
		ReceivedAt:        input.ReceivedAt,
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrMessageCreateFailed, err)
	}
	if message.ID == "" {
		return ErrMessageCreateFailed
	}

	if err := st.Threads().TouchLastMessage(ctx, thread.ID, message.Body, message.CreatedAt); err != nil {
		return fmt.Errorf("update thread preview: %w", err)
	}
	if _, err := st.Messages().RecordDeliveryEvent(ctx, message.ID, messages.StatusDelivered); err != nil {
		return fmt.Errorf("record delivery event: %w", err)
	}

	*out = Result{
		ThreadID:  thread.ID,
		MessageID: message.ID,
		ContactID: contact.ID,
		LeadID:    thread.LeadID,
	}
	return nil
}

// resolveThread finds the contact's current thread on the channel, reopening
// it if it is not open, or creates a fresh one pre-linked to the contact's
// latest lead.
func (s *Service) resolveThread(ctx context.Context, st Stores, contactID string, input Input, p senderProfile) (threads.Thread, error) {
	thread, found, err := st.Threads().Current(ctx, contactID, p.channel.String())
	if err != nil {
		return threads.Thread{}, fmt.Errorf("resolve thread: %w", err)
	}
	if found {
		if thread.Status != threads.StatusOpen {
			if err := st.Threads().Reopen(ctx, thread.ID); err != nil {
				return threads.Thread{}, fmt.Errorf("reopen thread: %w", err)
			}
			s.logger.Debug("thread reopened",
				slog.String("thread_id", thread.ID),
				slog.String("previous_status", thread.Status),
			)
			thread.Status = threads.StatusOpen
		}
		return thread, nil
	}

	params := threads.CreateParams{
		ContactID: contactID,
		Channel:   p.channel.String(),
		Subject:   input.Subject,
	}
	lead, hasLead, err := st.Leads().LatestForContact(ctx, contactID)
	if err != nil {
		return threads.Thread{}, fmt.Errorf("lookup lead for thread: %w", err)
	}
	if hasLead {
		params.LeadID = lead.ID
		params.PropertyID = lead.PropertyID
	}
	thread, err = st.Threads().Create(ctx, params)
	if err != nil {
		return threads.Thread{}, fmt.Errorf("%w: %w", ErrThreadCreateFailed, err)
	}
	if thread.ID == "" {
		return threads.Thread{}, ErrThreadCreateFailed
	}
	return thread, nil
}

func (s *Service) ensureParticipant(ctx context.Context, st Stores, threadID string, contact contacts.Contact, p senderProfile) (threads.Participant, error) {
	participant, found, err := st.Threads().ContactParticipant(ctx, threadID, contact.ID)
	if err != nil {
		return threads.Participant{}, fmt.Errorf("lookup participant: %w", err)
	}
	if !found {
		participant, err = st.Threads().CreateContactParticipant(ctx, threadID, contact.ID, contact.FullName(), p.externalAddress())
		if err != nil {
			return threads.Participant{}, fmt.Errorf("create participant: %w", err)
		}
		return participant, nil
	}
	if participant.ExternalAddress == "" && p.externalAddress() != "" {
		if err := st.Threads().BackfillExternalAddress(ctx, participant.ID, p.externalAddress()); err != nil {
			return threads.Participant{}, fmt.Errorf("backfill participant address: %w", err)
		}
		participant.ExternalAddress = p.externalAddress()
	}
	return participant, nil
}

// lookupDuplicate re-reads the message recorded under the idempotency key
// after a write race.
func (s *Service) lookupDuplicate(ctx context.Context, providerMessageID string) (Result, bool, error) {
	var result Result
	var found bool
	err := s.tx.InTx(ctx, func(ctx context.Context, st Stores) error {
		existing, ok, err := st.Messages().GetByProviderMessageID(ctx, providerMessageID)
		if err != nil || !ok {
			return err
		}
		thread, _, err := st.Threads().Get(ctx, existing.ThreadID)
		if err != nil {
			return err
		}
		found = true
		result = Result{
			ThreadID:  existing.ThreadID,
			MessageID: existing.ID,
			ContactID: thread.ContactID,
			LeadID:    thread.LeadID,
			Duplicate: true,
		}
		return nil
	})
	return result, found, err
}

// fanOut runs the post-commit side effects. Failures here are logged, never
// surfaced: the committed message is the source of truth and the outbox and
// audit trail are at-least-once.
func (s *Service) fanOut(ctx context.Context, input Input, result Result) {
	if result.LeadID != "" && s.automation != nil {
		if err := s.automation.StopAutomation(ctx, result.LeadID); err != nil {
			s.logger.Warn("stop lead automation failed",
				slog.String("lead_id", result.LeadID),
				slog.Any("error", err),
			)
		}
		if removed, err := s.automation.DeleteQueuedFollowups(ctx, result.LeadID); err != nil {
			s.logger.Warn("delete queued followups failed",
				slog.String("lead_id", result.LeadID),
				slog.Any("error", err),
			)
		} else if removed > 0 {
			s.logger.Debug("queued followups removed",
				slog.String("lead_id", result.LeadID),
				slog.Int64("count", removed),
			)
		}
	}

	if s.outboxQueue != nil {
		err := s.outboxQueue.Enqueue(ctx, outbox.EventTypeMessageReceived, map[string]any{
			"message_id": result.MessageID,
			"thread_id":  result.ThreadID,
			"contact_id": result.ContactID,
			"channel":    input.Channel.String(),
		})
		if err != nil {
			s.logger.Warn("enqueue outbox event failed",
				slog.String("message_id", result.MessageID),
				slog.Any("error", err),
			)
		}
	}

	if s.auditLog != nil {
		actor := firstNonEmpty(input.Provider, input.Channel.String())
		err := s.auditLog.Record(ctx, actor, auditActionMessageReceived, "message", result.MessageID, map[string]any{
			"channel":   input.Channel.String(),
			"thread_id": result.ThreadID,
		})
		if err != nil {
			s.logger.Warn("audit record failed",
				slog.String("message_id", result.MessageID),
				slog.Any("error", err),
			)
		}
	}
}
