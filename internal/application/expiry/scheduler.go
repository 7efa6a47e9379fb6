package expiry

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_expiry.go -package=mocks . Locker,Executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nestfind/nestfind/internal/application/orchestrator"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker elects one sweeping instance when several servers run.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Executor applies a system transition.
type Executor interface {
	Execute(ctx context.Context, cmd orchestrator.Command) (*orchestrator.Result, error)
}

// DueLister finds entities whose time-bound state has elapsed.
type DueLister interface {
	ListDue(ctx context.Context, kind store.DueKind, now time.Time, limit int) ([]uuid.UUID, error)
}

// Observer records sweep outcomes.
type Observer interface {
	ObserveSweep(sweep string, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveSweep(string, string) {}

// Sweep outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeSkipped  = "skipped"
	OutcomeDeferred = "deferred"
	OutcomeFailed   = "failed"
)

const leaderKey = "expiry-sweep"

type sweep struct {
	name    string
	kind    store.DueKind
	entity  lifecycle.EntityType
	trigger lifecycle.Trigger
	reason  string
}

var sweeps = []sweep{
	{"reservations", store.DueReservation, lifecycle.EntityReservation, reservation.TriggerExpire, "reservation window elapsed"},
	{"otps", store.DueOTP, lifecycle.EntityVisit, visit.TriggerExpireOTP, "one-time code expired"},
	{"visit_counters", store.DueVisitCounter, lifecycle.EntityVisit, visit.TriggerExpireCounter, "counter proposal was not answered in time"},
	{"offer_counters", store.DueOfferCounter, lifecycle.EntityOffer, offer.TriggerExpireCounter, "counter offer was not answered in time"},
}

// Report summarizes one scheduler cycle.
type Report struct {
	// Leaderless is set when another instance held the sweep lock.
	Leaderless bool
	Applied    int
	Skipped    int
	Deferred   int
	Failed     int
}

// Scheduler fires SYSTEM transitions for elapsed reservations, one-time codes
// and counter proposals.
type Scheduler struct {
	due         DueLister
	exec        Executor
	locker      Locker
	cron        *cron.Cron
	spec        string
	batchSize   int
	lockTimeout time.Duration
	observer    Observer
	now         func() time.Time
	logger      zerolog.Logger
}

// Config tunes the scheduler.
type Config struct {
	Schedule    string
	BatchSize   int
	LockTimeout time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(due DueLister, exec Executor, cfg Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15s"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 500 * time.Millisecond
	}
	s := &Scheduler{
		due:         due,
		exec:        exec,
		spec:        cfg.Schedule,
		batchSize:   cfg.BatchSize,
		lockTimeout: cfg.LockTimeout,
		observer:    nopObserver{},
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "expiry").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	return s
}

// Start registers the sweep on the cron schedule and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("expiry cycle failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid expiry schedule: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Msg("expiry scheduler started")
	return nil
}

// Stop waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep of every due kind. Transitions that became
// illegal since the scan are skipped; lock timeouts are deferred to the next
// cycle.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	if s.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
		unlock, err := s.locker.Lock(lockCtx, leaderKey, time.Minute)
		cancel()
		if err != nil {
			s.logger.Debug().Err(err).Msg("sweep lock held elsewhere")
			report.Leaderless = true
			return report, nil
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release sweep lock")
			}
		}()
	}

	now := s.now()
	for _, sw := range sweeps {
		due, err := s.due.ListDue(ctx, sw.kind, now, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("list due %s: %w", sw.name, err)
		}
		for _, id := range due {
			outcome := s.fire(ctx, sw, id)
			s.observer.ObserveSweep(sw.name, outcome)
			switch outcome {
			case OutcomeApplied:
				report.Applied++
			case OutcomeSkipped:
				report.Skipped++
			case OutcomeDeferred:
				report.Deferred++
			default:
				report.Failed++
			}
		}
	}
	if report.Applied+report.Deferred+report.Failed > 0 {
		s.logger.Info().
			Int("applied", report.Applied).
			Int("skipped", report.Skipped).
			Int("deferred", report.Deferred).
			Int("failed", report.Failed).
			Msg("expiry cycle finished")
	}
	return report, nil
}

func (s *Scheduler) fire(ctx context.Context, sw sweep, id uuid.UUID) string {
	_, err := s.exec.Execute(ctx, orchestrator.Command{
		EntityType:  sw.entity,
		EntityID:    id,
		Trigger:     sw.trigger,
		Actor:       lifecycle.SystemActor(),
		LockTimeout: s.lockTimeout,
		Reason:      sw.reason,
	})
	log := s.logger.With().Str("sweep", sw.name).Str("entity_id", id.String()).Logger()
	switch {
	case err == nil:
		return OutcomeApplied
	case lifecycle.IsCode(err, lifecycle.CodeInvalidTransition), lifecycle.IsCode(err, lifecycle.CodeNotFound):
		return OutcomeSkipped
	case lifecycle.IsCode(err, lifecycle.CodeConflict), errors.Is(err, context.DeadlineExceeded):
		log.Debug().Err(err).Msg("entity busy, retrying next cycle")
		return OutcomeDeferred
	default:
		log.Error().Err(err).Msg("expiry transition failed")
		return OutcomeFailed
	}
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
