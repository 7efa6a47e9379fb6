package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/store"
)

// cause identifies the transition that cascaded into another entity.
type cause struct {
	EntityType lifecycle.EntityType `json:"entity_type"`
	EntityID   uuid.UUID            `json:"entity_id"`
	Trigger    lifecycle.Trigger    `json:"trigger"`
}

type step struct {
	target  target
	trigger lifecycle.Trigger
	actor   lifecycle.Actor
	subject access.Subject
	payload *Payload
	reason  string
	now     time.Time
	outbox  *outbox
	cause   *cause
}

// apply runs one transition: legality, authorization, effects, persistence and
// the audit row, then any cascades the effects scheduled.
func (o *Orchestrator) apply(ctx context.Context, tx store.Tx, s step) (*audit.Entry, error) {
	e := s.target.entity
	tr, err := o.registry.LegalTransition(e.Kind(), e.State(), s.trigger)
	if err != nil {
		var le *lifecycle.Error
		if errors.As(err, &le) {
			le.ValidTriggers = o.registry.OpenTriggers(e.Kind(), e.State(), s.subject.Facts)
		}
		return nil, err
	}
	if err := o.resolver.Authorize(s.subject, tr); err != nil {
		return nil, err
	}

	ec := &effectContext{
		ctx:     ctx,
		tx:      tx,
		o:       o,
		step:    s,
		tr:      tr,
		details: map[string]interface{}{},
	}
	for _, name := range tr.Effects {
		fn, ok := o.effects[name]
		if !ok {
			return nil, fmt.Errorf("no handler for effect %s", name)
		}
		if err := fn(ec); err != nil {
			return nil, err
		}
	}
	if ec.reason != "" {
		ec.details["reason"] = ec.reason
	}
	if s.cause != nil {
		ec.details["cascade_from"] = s.cause
	}

	prior := e.State()
	prev := e.Revision()
	e.SetState(tr.To)
	touch(e, s.now)
	if err := save(ctx, tx, e, prev); err != nil {
		return nil, err
	}
	entry, err := o.record(ctx, tx, s.actor, string(s.trigger), e, prior, tr.To, ec.details, s.now)
	if err != nil {
		return nil, err
	}
	for _, next := range ec.after {
		if err := next(); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// cascade fires an internal transition on a related entity inside the same
// transaction. It is authorized as SYSTEM and audited under the original actor.
func (o *Orchestrator) cascade(parent *effectContext, t target, trigger lifecycle.Trigger, reason string) error {
	from := parent.step.target.entity
	_, err := o.apply(parent.ctx, parent.tx, step{
		target:  t,
		trigger: trigger,
		actor:   parent.step.actor,
		subject: access.Subject{
			Entity:   t.entity.Kind(),
			State:    t.entity.State(),
			Facts:    facts(t),
			Relation: lifecycle.RelationSystem,
		},
		payload: &Payload{},
		reason:  reason,
		now:     parent.step.now,
		outbox:  parent.step.outbox,
		cause:   &cause{EntityType: from.Kind(), EntityID: from.Key(), Trigger: parent.step.trigger},
	})
	return err
}

// record appends the audit row for a state change. A failure here fails the
// whole mutation.
func (o *Orchestrator) record(ctx context.Context, tx store.Tx, actor lifecycle.Actor, action string, e lifecycle.Entity, prior, next lifecycle.State, details map[string]interface{}, now time.Time) (*audit.Entry, error) {
	entry, err := audit.NewEntry(actor, action, e.Kind(), e.Key(), prior, next, details, now)
	if err != nil {
		return nil, err
	}
	if err := o.sign(entry); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	return entry, nil
}
