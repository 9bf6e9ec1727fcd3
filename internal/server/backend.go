package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openjobspec/ojs-lease/internal/core"
	"github.com/openjobspec/ojs-lease/internal/lease"
	"github.com/openjobspec/ojs-lease/internal/memory"
	natsbackend "github.com/openjobspec/ojs-lease/internal/nats"
	"github.com/openjobspec/ojs-lease/internal/postgres"
	redisbackend "github.com/openjobspec/ojs-lease/internal/redis"
)

// Backend is the store selected by OJS_BACKEND plus the collaborators it
// can provide.
type Backend struct {
	Name   string
	Store  core.JobStore
	Engine core.Engine
	Events core.EventPublisher

	closers []func() error
}

// OpenBackend connects the configured store. The NATS backend also
// provides the engine notifier and the lifecycle event broker.
func OpenBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{Name: cfg.Backend}

	switch cfg.Backend {
	case BackendMemory:
		store := memory.New()
		b.Store = store
		b.closers = append(b.closers, store.Close)

	case BackendNATS:
		store, err := natsbackend.New(cfg.NatsURL, logger, natsbackend.WithScanBudget(cfg.NatsScanBudget))
		if err != nil {
			return nil, err
		}
		broker := natsbackend.NewPubSubBroker(store.Conn())
		b.Store = store
		b.Engine = natsbackend.NewEngineNotifier(store.JetStream())
		b.Events = broker
		b.closers = append(b.closers, broker.Close, store.Close)
		logger.Info("connected to NATS", "url", cfg.NatsURL)

	case BackendPostgres:
		store, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
		logger.Info("connected to PostgreSQL")

	case BackendRedis:
		store := redisbackend.Dial(cfg.RedisAddr, cfg.RedisPassword, redisbackend.WithLogger(logger))
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
		logger.Info("connected to Redis", "addr", cfg.RedisAddr)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return b, nil
}

// Service builds the lease service over the backend.
func (b *Backend) Service(cfg Config, logger *slog.Logger) *lease.Service {
	opts := []lease.Option{
		lease.WithLogger(logger),
		lease.WithBackendName(b.Name),
		lease.WithCandidateWindow(cfg.CandidateFactor, cfg.MaxCandidates),
	}
	if b.Engine != nil {
		opts = append(opts, lease.WithEngine(b.Engine))
	}
	if b.Events != nil {
		opts = append(opts, lease.WithEventPublisher(b.Events))
	}
	return lease.New(b.Store, opts...)
}

// Close releases everything OpenBackend opened, in order.
func (b *Backend) Close() error {
	var errs []error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
