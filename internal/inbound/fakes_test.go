package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opsdeskhq/opsdesk/internal/contacts"
	"github.com/opsdeskhq/opsdesk/internal/leads"
	"github.com/opsdeskhq/opsdesk/internal/messages"
	"github.com/opsdeskhq/opsdesk/internal/threads"
)

// memStores is an in-memory Stores implementation for engine tests.
type memStores struct {
	contacts *memContacts
	threads  *memThreads
	messages *memMessages
	leads    *memLeads
}

func newMemStores() *memStores {
	th := &memThreads{}
	return &memStores{
		contacts: &memContacts{byID: map[string]*contacts.Contact{}},
		threads:  th,
		messages: &memMessages{threads: th},
		leads:    &memLeads{},
	}
}

func (s *memStores) Contacts() ContactStore { return s.contacts }
func (s *memStores) Threads() ThreadStore   { return s.threads }
func (s *memStores) Messages() MessageStore { return s.messages }
func (s *memStores) Leads() LeadStore       { return s.leads }

// memTxRunner runs fn against the shared in-memory stores. failWith, when
// set, is returned instead of running fn, simulating a failed transaction.
type memTxRunner struct {
	stores   *memStores
	failWith error
	calls    int
}

func (r *memTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	r.calls++
	if r.failWith != nil {
		return r.failWith
	}
	return fn(ctx, r.stores)
}

type memContacts struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*contacts.Contact
}

func (c *memContacts) Get(_ context.Context, id string) (contacts.Contact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if found, ok := c.byID[id]; ok {
		return *found, true, nil
	}
	return contacts.Contact{}, false, nil
}

func (c *memContacts) GetByPhone(_ context.Context, e164, _ string) (contacts.Contact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, contact := range c.byID {
		if contact.PhoneE164 != "" && contact.PhoneE164 == e164 {
			return *contact, true, nil
		}
	}
	return contacts.Contact{}, false, nil
}

func (c *memContacts) GetByEmail(_ context.Context, email string) (contacts.Contact, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, contact := range c.byID {
		if contact.Email != "" && strings.EqualFold(contact.Email, email) {
			return *contact, true, nil
		}
	}
	return contacts.Contact{}, false, nil
}

func (c *memContacts) Create(_ context.Context, params contacts.CreateParams) (contacts.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	contact := contacts.Contact{
		ID:        fmt.Sprintf("contact-%d", c.seq),
		FirstName: params.FirstName,
		LastName:  params.LastName,
		Email:     strings.ToLower(params.Email),
		Phone:     params.Phone,
		PhoneE164: params.PhoneE164,
		Source:    params.Source,
		CreatedAt: time.Now().UTC(),
	}
	if contact.FullName() == "" {
		contact.FirstName = contacts.PlaceholderName
	}
	c.byID[contact.ID] = &contact
	return contact, nil
}

func (c *memContacts) FillIdentity(_ context.Context, id string, patch contacts.IdentityPatch) (contacts.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.byID[id]
	if !ok {
		return contacts.Contact{}, fmt.Errorf("contact %s not found", id)
	}
	if patch.Email != "" && contact.Email == "" {
		contact.Email = strings.ToLower(patch.Email)
	}
	if patch.PhoneE164 != "" && contact.PhoneE164 == "" {
		contact.PhoneE164 = patch.PhoneE164
		contact.Phone = patch.Phone
	}
	return *contact, nil
}

func (c *memContacts) ReplacePlaceholderName(_ context.Context, id, first, last string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("contact %s not found", id)
	}
	if contact.HasPlaceholderName() {
		contact.FirstName, contact.LastName = first, last
	}
	return nil
}

func (c *memContacts) AppendNote(_ context.Context, id, note string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("contact %s not found", id)
	}
	if strings.Contains(contact.Notes, note) {
		return nil
	}
	if contact.Notes == "" {
		contact.Notes = note
	} else {
		contact.Notes += "\n" + note
	}
	return nil
}

// seed inserts a contact directly, bypassing Create defaults.
func (c *memContacts) seed(contact contacts.Contact) contacts.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	if contact.ID == "" {
		contact.ID = fmt.Sprintf("contact-%d", c.seq)
	}
	c.byID[contact.ID] = &contact
	return contact
}

type memThreads struct {
	mu           sync.Mutex
	seq          int
	threads      []*threads.Thread
	participants []*threads.Participant
}

func (t *memThreads) Get(_ context.Context, id string) (threads.Thread, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range t.threads {
		if th.ID == id {
			return *th, true, nil
		}
	}
	return threads.Thread{}, false, nil
}

func (t *memThreads) Current(_ context.Context, contactID, channel string) (threads.Thread, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.threads) - 1; i >= 0; i-- {
		th := t.threads[i]
		if th.ContactID == contactID && th.Channel == channel {
			return *th, true, nil
		}
	}
	return threads.Thread{}, false, nil
}

func (t *memThreads) Create(_ context.Context, params threads.CreateParams) (threads.Thread, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	thread := threads.Thread{
		ID:         fmt.Sprintf("thread-%d", t.seq),
		ContactID:  params.ContactID,
		LeadID:     params.LeadID,
		PropertyID: params.PropertyID,
		Channel:    params.Channel,
		Status:     threads.StatusOpen,
		Subject:    params.Subject,
		CreatedAt:  time.Now().UTC(),
	}
	t.threads = append(t.threads, &thread)
	return thread, nil
}

func (t *memThreads) Reopen(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range t.threads {
		if th.ID == id {
			th.Status = threads.StatusOpen
			return nil
		}
	}
	return fmt.Errorf("thread %s not found", id)
}

// setStatus flips a thread's status directly, for lifecycle tests.
func (t *memThreads) setStatus(id, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range t.threads {
		if th.ID == id {
			th.Status = status
			return nil
		}
	}
	return fmt.Errorf("thread %s not found", id)
}

func (t *memThreads) TouchLastMessage(_ context.Context, id, preview string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, th := range t.threads {
		if th.ID == id {
			th.LastMessagePreview = threads.TruncatePreview(preview)
			th.LastMessageAt = &at
			return nil
		}
	}
	return fmt.Errorf("thread %s not found", id)
}

func (t *memThreads) ContactParticipant(_ context.Context, threadID, contactID string) (threads.Participant, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.participants {
		if p.ThreadID == threadID && p.ContactID == contactID && p.Type == threads.ParticipantContact {
			return *p, true, nil
		}
	}
	return threads.Participant{}, false, nil
}

func (t *memThreads) CreateContactParticipant(_ context.Context, threadID, contactID, displayName, externalAddress string) (threads.Participant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	p := threads.Participant{
		ID:              fmt.Sprintf("participant-%d", t.seq),
		ThreadID:        threadID,
		Type:            threads.ParticipantContact,
		ContactID:       contactID,
		DisplayName:     displayName,
		ExternalAddress: externalAddress,
		CreatedAt:       time.Now().UTC(),
	}
	t.participants = append(t.participants, &p)
	return p, nil
}

func (t *memThreads) BackfillExternalAddress(_ context.Context, participantID, externalAddress string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.participants {
		if p.ID == participantID {
			if p.ExternalAddress == "" {
				p.ExternalAddress = externalAddress
			}
			return nil
		}
	}
	return fmt.Errorf("participant %s not found", participantID)
}

func (t *memThreads) ContactIDByExternalAddress(_ context.Context, channel, externalAddress string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.participants) - 1; i >= 0; i-- {
		p := t.participants[i]
		if p.Type != threads.ParticipantContact || p.ExternalAddress != externalAddress {
			continue
		}
		for _, th := range t.threads {
			if th.ID == p.ThreadID && th.Channel == channel {
				return p.ContactID, true, nil
			}
		}
	}
	return "", false, nil
}

type memMessages struct {
	mu       sync.Mutex
	seq      int
	messages []*messages.Message
	events   []messages.DeliveryEvent
	threads  *memThreads
}

func (m *memMessages) GetByProviderMessageID(_ context.Context, providerMessageID string) (messages.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if providerMessageID == "" {
		return messages.Message{}, false, nil
	}
	for _, msg := range m.messages {
		if msg.ProviderMessageID == providerMessageID {
			return *msg, true, nil
		}
	}
	return messages.Message{}, false, nil
}

func (m *memMessages) Create(_ context.Context, params messages.CreateParams) (messages.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	body := strings.TrimSpace(params.Body)
	if body == "" {
		if len(params.MediaURLs) > 0 {
			body = messages.MediaPlaceholderBody
		} else {
			body = messages.EmptyPlaceholderBody
		}
	}
	msg := messages.Message{
		ID:                fmt.Sprintf("message-%d", m.seq),
		ThreadID:          params.ThreadID,
		ParticipantID:     params.ParticipantID,
		Direction:         params.Direction,
		Channel:           params.Channel,
		Subject:           params.Subject,
		Body:              body,
		MediaURLs:         params.MediaURLs,
		Status:            messages.StatusReceived,
		Provider:          params.Provider,
		ProviderMessageID: params.ProviderMessageID,
		FromAddress:       params.FromAddress,
		ToAddress:         params.ToAddress,
		Metadata:          params.Metadata,
		CreatedAt:         time.Now().UTC(),
	}
	m.messages = append(m.messages, &msg)
	return msg, nil
}

func (m *memMessages) RecordDeliveryEvent(_ context.Context, messageID, status string) (messages.DeliveryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	event := messages.DeliveryEvent{
		ID:        fmt.Sprintf("event-%d", m.seq),
		MessageID: messageID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	m.events = append(m.events, event)
	return event, nil
}

type memLeads struct {
	mu    sync.Mutex
	leads []leads.Lead
}

func (l *memLeads) LatestForContact(_ context.Context, contactID string) (leads.Lead, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.leads) - 1; i >= 0; i-- {
		if l.leads[i].ContactID == contactID {
			return l.leads[i], true, nil
		}
	}
	return leads.Lead{}, false, nil
}

func (l *memLeads) seed(lead leads.Lead) leads.Lead {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lead.ID == "" {
		lead.ID = fmt.Sprintf("lead-%d", len(l.leads)+1)
	}
	l.leads = append(l.leads, lead)
	return lead
}

// recordingAutomation captures automation-cancellation calls.
type recordingAutomation struct {
	stopped  []string
	deleted  []string
	stopErr error
	removed int64
}

func (a *recordingAutomation) StopAutomation(_ context.Context, leadID string) error {
	a.stopped = append(a.stopped, leadID)
	return a.stopErr
}

func (a *recordingAutomation) DeleteQueuedFollowups(_ context.Context, leadID string) (int64, error) {
	a.deleted = append(a.deleted, leadID)
	return a.removed, nil
}

type outboxEntry struct {
	eventType string
	payload   map[string]any
}

// recordingOutbox captures enqueued events.
type recordingOutbox struct {
	entries []outboxEntry
	err     error
}

func (o *recordingOutbox) Enqueue(_ context.Context, eventType string, payload map[string]any) error {
	if o.err != nil {
		return o.err
	}
	o.entries = append(o.entries, outboxEntry{eventType: eventType, payload: payload})
	return nil
}

type auditEntry struct {
	actor      string
	action     string
	entityType string
	entityID   string
	meta       map[string]any
}

// recordingAudit captures audit records.
type recordingAudit struct {
	entries []auditEntry
}

func (a *recordingAudit) Record(_ context.Context, actor, action, entityType, entityID string, meta map[string]any) error {
	a.entries = append(a.entries, auditEntry{actor: actor, action: action, entityType: entityType, entityID: entityID, meta: meta})
	return nil
}
