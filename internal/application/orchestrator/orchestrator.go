package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// Policy holds the business limits of the engine.
type Policy struct {
	ReservationWindow     time.Duration
	OTPTTL                time.Duration
	CounterResponseWindow time.Duration
	MaxCounterRounds      int
	MaxReapplications     int
	GeofenceRadiusMeters  float64
	MinCompleteness       int
	MaxOTPAttempts        int
}

func DefaultPolicy() Policy {
	return Policy{
		ReservationWindow:     72 * time.Hour,
		OTPTTL:                10 * time.Minute,
		CounterResponseWindow: 48 * time.Hour,
		MaxCounterRounds:      5,
		MaxReapplications:     3,
		GeofenceRadiusMeters:  250,
		MinCompleteness:       100,
		MaxOTPAttempts:        5,
	}
}

// BuildRegistry compiles every entity table with the policy limits that
// transition conditions refer to.
func BuildRegistry(p Policy) (*lifecycle.Registry, error) {
	params := lifecycle.Facts{
		"max_counter_rounds": p.MaxCounterRounds,
		"min_completeness":   p.MinCompleteness,
		"max_otp_attempts":   p.MaxOTPAttempts,
	}
	return lifecycle.NewRegistry(params,
		property.Table(),
		visit.Table(),
		offer.Table(),
		reservation.Table(),
		agentapp.Table(),
	)
}

// Observer receives the outcome of every Execute call.
type Observer interface {
	ObserveExecute(entity lifecycle.EntityType, trigger lifecycle.Trigger, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveExecute(lifecycle.EntityType, lifecycle.Trigger, string, time.Duration) {}

// Command asks the orchestrator to fire Trigger on one entity.
type Command struct {
	EntityType lifecycle.EntityType
	EntityID   uuid.UUID
	Trigger    lifecycle.Trigger
	Actor      lifecycle.Actor
	Payload    json.RawMessage
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int
	// LockTimeout overrides the orchestrator default for this call.
	LockTimeout time.Duration
	// Reason is recorded when the payload carries none. Used by sweeps.
	Reason string
}

// Result is the outcome of a successful Execute.
type Result struct {
	Snapshot
	PriorStatus lifecycle.State `json:"prior_status"`
	NewStatus   lifecycle.State `json:"new_status"`
	AuditID     uuid.UUID       `json:"audit_id"`
	Outbox      []Message       `json:"-"`
}

// Orchestrator is the single entry point for every state mutation.
type Orchestrator struct {
	store    store.Store
	registry *lifecycle.Registry
	resolver *access.Resolver
	policy   Policy
	effects  map[lifecycle.Effect]effectFunc

	lockTimeout time.Duration
	signingKey  []byte
	observer    Observer
	now         func() time.Time
	logger      zerolog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithLockTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.lockTimeout = d }
}

func WithSigningKey(key []byte) Option {
	return func(o *Orchestrator) { o.signingKey = key }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over st.
func New(st store.Store, registry *lifecycle.Registry, policy Policy, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		registry:    registry,
		resolver:    access.NewResolver(registry),
		policy:      policy,
		lockTimeout: 3 * time.Second,
		observer:    nopObserver{},
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.effects = o.effectHandlers()
	return o
}

func (o *Orchestrator) Registry() *lifecycle.Registry {
	return o.registry
}

// Execute validates and applies cmd inside one transaction. Every successful
// call writes exactly one audit row for the target entity plus one per
// cascaded entity; a failed call writes nothing.
func (o *Orchestrator) Execute(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()
	res, err := o.execute(ctx, cmd)
	if errors.Is(err, visit.ErrOTPMismatch) {
		o.recordOTPMiss(ctx, cmd.EntityID)
	}
	outcome := "ok"
	if err != nil {
		outcome = string(lifecycle.CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	o.observer.ObserveExecute(cmd.EntityType, cmd.Trigger, outcome, time.Since(start))

	log := o.logger.With().
		Str("entity_type", string(cmd.EntityType)).
		Str("entity_id", cmd.EntityID.String()).
		Str("trigger", string(cmd.Trigger)).
		Str("actor_role", cmd.Actor.AuditRole()).
		Logger()
	switch {
	case err == nil:
		log.Info().
			Str("from", string(res.PriorStatus)).
			Str("to", string(res.Status)).
			Int("version", res.Version).
			Msg("transition applied")
	case outcome == "error":
		log.Error().Err(err).Msg("transition failed")
	default:
		log.Debug().Err(err).Msg("transition rejected")
	}
	return res, err
}

// recordOTPMiss counts a failed check-in in its own transaction.
func (o *Orchestrator) recordOTPMiss(ctx context.Context, visitID uuid.UUID) {
	_, err := o.execute(ctx, Command{
		EntityType: lifecycle.EntityVisit,
		EntityID:   visitID,
		Trigger:    visit.TriggerRejectOTP,
		Actor:      lifecycle.SystemActor(),
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("visit_id", visitID.String()).Msg("failed to record one-time code miss")
	}
}

func (o *Orchestrator) execute(ctx context.Context, cmd Command) (*Result, error) {
	payload, err := decodePayload(cmd.Payload)
	if err != nil {
		return nil, err
	}
	expected := cmd.ExpectedVersion
	if expected == nil {
		expected = payload.Version
	}
	if expected == nil {
		// Fall back to the version seen before waiting on the row lock.
		var observed int
		err := o.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
			t, err := o.loadTarget(ctx, tx, cmd.EntityType, cmd.EntityID, false)
			if err != nil {
				return err
			}
			observed = t.entity.Revision()
			return nil
		})
		if err != nil {
			return nil, translateStoreError(err, cmd.EntityType, cmd.EntityID)
		}
		expected = &observed
	}
	timeout := cmd.LockTimeout
	if timeout <= 0 {
		timeout = o.lockTimeout
	}

	var res *Result
	err = o.store.InTx(ctx, store.TxOptions{LockTimeout: timeout}, func(tx store.Tx) error {
		now := o.now()
		target, err := o.lockTarget(ctx, tx, cmd.EntityType, cmd.EntityID)
		if err != nil {
			return err
		}
		subject, err := o.subject(ctx, tx, cmd.Actor, target)
		if err != nil {
			return err
		}
		if !access.CanView(subject) {
			return lifecycle.NotFound(cmd.EntityType, cmd.EntityID)
		}
		if *expected != target.entity.Revision() {
			return lifecycle.Conflict("%s was modified: expected version %d, current %d",
				lowerKind(cmd.EntityType), *expected, target.entity.Revision())
		}

		prior := target.entity.State()
		out := &outbox{}
		entry, err := o.apply(ctx, tx, step{
			target:  target,
			trigger: cmd.Trigger,
			actor:   cmd.Actor,
			subject: subject,
			payload: payload,
			reason:  cmd.Reason,
			now:     now,
			outbox:  out,
		})
		if err != nil {
			return err
		}

		snap, err := o.snapshot(ctx, tx, cmd.Actor, target)
		if err != nil {
			return err
		}
		res = &Result{
			Snapshot:    *snap,
			PriorStatus: prior,
			NewStatus:   entry.NewState,
			AuditID:     entry.AuditID,
			Outbox:      out.messages,
		}
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, cmd.EntityType, cmd.EntityID)
	}
	return res, nil
}

// Get returns the actor's view of one entity.
func (o *Orchestrator) Get(ctx context.Context, actor lifecycle.Actor, entity lifecycle.EntityType, id uuid.UUID) (*Snapshot, error) {
	var snap *Snapshot
	err := o.store.InTx(ctx, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		t, err := o.loadTarget(ctx, tx, entity, id, false)
		if err != nil {
			return err
		}
		snap, err = o.snapshot(ctx, tx, actor, t)
		return err
	})
	if err != nil {
		return nil, translateStoreError(err, entity, id)
	}
	return snap, nil
}

// translateStoreError maps storage sentinels onto the engine taxonomy. Errors
// already classified pass through; anything else is fatal to the request.
func translateStoreError(err error, entity lifecycle.EntityType, id uuid.UUID) error {
	if lifecycle.CodeOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return lifecycle.NotFound(entity, id)
	case errors.Is(err, store.ErrStaleVersion):
		return &lifecycle.Error{Code: lifecycle.CodeConflict, Message: "a concurrent change was applied first; refetch and retry", Err: err}
	case errors.Is(err, store.ErrLockNotAvailable):
		return &lifecycle.Error{Code: lifecycle.CodeConflict, Message: "entity is being modified by another request; retry", Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &lifecycle.Error{Code: lifecycle.CodeConflict, Message: "record already exists", Err: err}
	}
	return err
}

// sign attaches an HMAC signature when a key is configured.
func (o *Orchestrator) sign(e *audit.Entry) error {
	if len(o.signingKey) == 0 {
		return nil
	}
	sig, err := audit.Sign(e, o.signingKey)
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}
