package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/opsdeskhq/opsdesk/internal/audit"
	"github.com/opsdeskhq/opsdesk/internal/config"
	"github.com/opsdeskhq/opsdesk/internal/db"
	"github.com/opsdeskhq/opsdesk/internal/handlers"
	"github.com/opsdeskhq/opsdesk/internal/identity"
	"github.com/opsdeskhq/opsdesk/internal/inbound"
	"github.com/opsdeskhq/opsdesk/internal/leads"
	"github.com/opsdeskhq/opsdesk/internal/logger"
	"github.com/opsdeskhq/opsdesk/internal/outbox"
	"github.com/opsdeskhq/opsdesk/internal/server"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			providePublisher,
			provideTxRunner,
			provideAutomationStopper,
			provideOutboxEnqueuer,
			provideAuditSink,
			provideExtractor,
			provideInboundService,
			handlers.NewPingHandler,
			handlers.NewInboundHandler,
			handlers.NewTwilioWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startOutboxRelay,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

// providePublisher dials the broker when AMQP is enabled. A nil publisher
// disables the relay; enqueued events stay pending until one runs.
func providePublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (outbox.Publisher, error) {
	if !cfg.AMQP.Enabled {
		log.Info("amqp disabled, outbox relay will not run")
		return nil, nil
	}
	publisher, err := outbox.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return publisher.Close() }})
	return publisher, nil
}

func provideTxRunner(conn *pgxpool.Pool) inbound.TxRunner {
	return inbound.NewPgxTxRunner(conn)
}

func provideAutomationStopper(conn *pgxpool.Pool) inbound.AutomationStopper {
	return leads.NewStore(conn)
}

func provideOutboxEnqueuer(conn *pgxpool.Pool) inbound.OutboxEnqueuer {
	return outbox.NewStore(conn)
}

func provideAuditSink(conn *pgxpool.Pool) inbound.AuditSink {
	return audit.NewStore(conn)
}

func provideExtractor(cfg config.Config) identity.Extractor {
	return identity.RegexExtractor{
		BusinessName: cfg.Business.Name,
		PhoneRegion:  cfg.Business.PhoneRegion,
	}
}

func provideInboundService(
	log *slog.Logger,
	tx inbound.TxRunner,
	automation inbound.AutomationStopper,
	outboxQueue inbound.OutboxEnqueuer,
	auditSink inbound.AuditSink,
	extractor identity.Extractor,
	cfg config.Config,
) *inbound.Service {
	return inbound.NewService(log, tx, automation, outboxQueue, auditSink, extractor, cfg.Business.PhoneRegion)
}

func provideServer(cfg config.Config, log *slog.Logger, pingHandler *handlers.PingHandler, inboundHandler *handlers.InboundHandler, twilioHandler *handlers.TwilioWebhookHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, log, pingHandler, inboundHandler, twilioHandler)
}

func startOutboxRelay(lc fx.Lifecycle, log *slog.Logger, conn *pgxpool.Pool, publisher outbox.Publisher, cfg config.Config) {
	if publisher == nil {
		return
	}
	relay := outbox.NewRelay(log, conn, publisher,
		time.Duration(cfg.Outbox.IntervalSeconds)*time.Second, cfg.Outbox.BatchSize)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { go relay.Start(ctx); return nil },
		OnStop: func(_ context.Context) error {
			cancel()
			relay.Wait()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
