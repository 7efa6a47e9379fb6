package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nestfind/nestfind/internal/application/expiry"
	"github.com/nestfind/nestfind/internal/application/orchestrator"
	"github.com/nestfind/nestfind/internal/config"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/session"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/infrastructure/memory"
	"github.com/nestfind/nestfind/internal/infrastructure/metrics"
	"github.com/nestfind/nestfind/internal/infrastructure/postgres"
	"github.com/nestfind/nestfind/internal/infrastructure/redislock"
)

// app is the wired dependency graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	store    store.Store
	users    user.Repository
	sessions session.Repository
	audit    audit.Reader
	metrics  *metrics.Collector
	orch     *orchestrator.Orchestrator
	sched    *expiry.Scheduler
	closers  []func()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg.LogLevel),
		metrics: metrics.New(),
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	policy := orchestrator.Policy(cfg.Policy)
	registry, err := orchestrator.BuildRegistry(policy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("lifecycle registry: %w", err)
	}
	a.orch = orchestrator.New(a.store, registry, policy, a.logger,
		orchestrator.WithLockTimeout(cfg.RequestLockTimeout),
		orchestrator.WithSigningKey(cfg.AuditSigningKey),
		orchestrator.WithObserver(a.metrics),
	)

	opts := []expiry.Option{expiry.WithObserver(a.metrics)}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		opts = append(opts, expiry.WithLocker(redislock.New(client, "nestfind:")))
	}
	a.sched = expiry.New(a.store, a.orch, expiry.Config{
		Schedule:    cfg.ExpirySchedule,
		BatchSize:   cfg.ExpiryBatchSize,
		LockTimeout: cfg.SchedulerLockTimeout,
	}, a.logger, opts...)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case "memory":
		st := memory.NewStore()
		a.store, a.users, a.sessions, a.audit = st, st.Users(), st.Sessions(), st.Audit()
		a.logger.Warn().Msg("using in-memory store; data is lost on exit")
	default:
		pool, err := a.openPool(ctx)
		if err != nil {
			return err
		}
		a.pool = pool
		a.store = postgres.NewStore(pool)
		a.users = postgres.NewUserRepository(pool)
		a.sessions = postgres.NewSessionRepository(pool)
		a.audit = postgres.NewAuditRepository(pool)
	}
	return nil
}

func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

// migrate applies pending schema files. It is a no-op for the memory store.
func (a *app) migrate(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	applied, err := postgres.RunMigrations(ctx, a.pool, a.cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, name := range applied {
		a.logger.Info().Str("file", name).Msg("migration applied")
	}
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
