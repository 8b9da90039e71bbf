package inbound

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeskhq/opsdesk/internal/contacts"
	"github.com/opsdeskhq/opsdesk/internal/leads"
	"github.com/opsdeskhq/opsdesk/internal/messages"
	"github.com/opsdeskhq/opsdesk/internal/threads"
)

// ContactStore is the contact data access the engine needs.
type ContactStore interface {
	Get(ctx context.Context, id string) (contacts.Contact, bool, error)
	GetByPhone(ctx context.Context, e164, raw string) (contacts.Contact, bool, error)
	GetByEmail(ctx context.Context, email string) (contacts.Contact, bool, error)
	Create(ctx context.Context, params contacts.CreateParams) (contacts.Contact, error)
	FillIdentity(ctx context.Context, id string, patch contacts.IdentityPatch) (contacts.Contact, error)
	ReplacePlaceholderName(ctx context.Context, id, first, last string) error
	AppendNote(ctx context.Context, id, note string) error
}

// ThreadStore is the thread and participant data access the engine needs.
type ThreadStore interface {
	Get(ctx context.Context, id string) (threads.Thread, bool, error)
	Current(ctx context.Context, contactID, channel string) (threads.Thread, bool, error)
	Create(ctx context.Context, params threads.CreateParams) (threads.Thread, error)
	Reopen(ctx context.Context, id string) error
	TouchLastMessage(ctx context.Context, id, preview string, at time.Time) error
	ContactParticipant(ctx context.Context, threadID, contactID string) (threads.Participant, bool, error)
	CreateContactParticipant(ctx context.Context, threadID, contactID, displayName, externalAddress string) (threads.Participant, error)
	BackfillExternalAddress(ctx context.Context, participantID, externalAddress string) error
	ContactIDByExternalAddress(ctx context.Context, channel, externalAddress string) (string, bool, error)
}

// MessageStore is the message data access the engine needs.
type MessageStore interface {
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (messages.Message, bool, error)
	Create(ctx context.Context, params messages.CreateParams) (messages.Message, error)
	RecordDeliveryEvent(ctx context.Context, messageID, status string) (messages.DeliveryEvent, error)
}

// LeadStore is the lead read access used for thread pre-linking.
type LeadStore interface {
	LatestForContact(ctx context.Context, contactID string) (leads.Lead, bool, error)
}

// Stores bundles the per-transaction data access used by one recording.
type Stores interface {
	Contacts() ContactStore
	Threads() ThreadStore
	Messages() MessageStore
	Leads() LeadStore
}

// TxRunner executes fn inside one atomic transaction. Resolution, inserts,
// and thread updates for a single inbound message all run through one call.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// AutomationStopper cancels automated follow-up work for a lead.
type AutomationStopper interface {
	StopAutomation(ctx context.Context, leadID string) error
	DeleteQueuedFollowups(ctx context.Context, leadID string) (int64, error)
}

// OutboxEnqueuer records a durable event for downstream consumers.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, eventType string, payload map[string]any) error
}

// AuditSink appends audit-log entries.
type AuditSink interface {
	Record(ctx context.Context, actor, action, entityType, entityID string, meta map[string]any) error
}

// PgxTxRunner binds the pgx-backed stores to a pooled transaction.
type PgxTxRunner struct {
	pool *pgxpool.Pool
}

// NewPgxTxRunner creates a TxRunner over a pgx pool.
func NewPgxTxRunner(pool *pgxpool.Pool) *PgxTxRunner {
	return &PgxTxRunner{pool: pool}
}

// InTx runs fn in a transaction, committing on success and rolling back on
// error.
func (r *PgxTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stores := pgxStores{
		contacts: contacts.NewStore(tx),
		threads:  threads.NewStore(tx),
		messages: messages.NewStore(tx),
		leads:    leads.NewStore(tx),
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgxStores struct {
	contacts *contacts.Store
	threads  *threads.Store
	messages *messages.Store
	leads    *leads.Store
}

func (s pgxStores) Contacts() ContactStore { return s.contacts }
func (s pgxStores) Threads() ThreadStore   { return s.threads }
func (s pgxStores) Messages() MessageStore { return s.messages }
func (s pgxStores) Leads() LeadStore       { return s.leads }
