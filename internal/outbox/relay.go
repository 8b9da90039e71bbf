package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const producerName = "opsdesk-inbound"

// Relay drains pending outbox rows on a fixed cadence and publishes them to
// the broker. Each drain runs in its own transaction so SKIP LOCKED row
// locks are held across publish and mark-dispatched.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	done      chan struct{}
}

// NewRelay creates an outbox relay.
func NewRelay(log *slog.Logger, pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batchSize int) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		logger:    log.With(slog.String("component", "outbox_relay")),
		interval:  interval,
		batchSize: batchSize,
		done:      make(chan struct{}),
	}
}

// Start runs the drain loop until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.Warn("outbox drain failed", slog.Any("error", err))
			}
		}
	}
}

// Wait blocks until the drain loop has exited.
func (r *Relay) Wait() {
	<-r.done
}

func (r *Relay) drainOnce(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)
	events, err := store.ListPending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	for _, event := range events {
		envelope := Envelope{
			Meta: Meta{
				ID:       event.ID,
				Type:     event.EventType,
				Producer: producerName,
				Time:     event.CreatedAt,
			},
			Data: event.Payload,
		}
		if err := r.publisher.Publish(ctx, event.EventType, envelope); err != nil {
			r.logger.Warn("publish failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.EventType),
				slog.Any("error", err),
			)
			if err := store.MarkFailed(ctx, event.ID); err != nil {
				return err
			}
			continue
		}
		if err := store.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
