package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// target is an entity together with the listing it belongs to. For a property
// both point at the same record; applications have no listing.
type target struct {
	entity   lifecycle.Entity
	property *property.Property
}

func (o *Orchestrator) lockTarget(ctx context.Context, tx store.Tx, kind lifecycle.EntityType, id uuid.UUID) (target, error) {
	return o.loadTarget(ctx, tx, kind, id, true)
}

// loadTarget reads the entity and its listing. With lock set the listing row
// is locked before the child row so every mutation under one listing takes
// locks in the same order.
func (o *Orchestrator) loadTarget(ctx context.Context, tx store.Tx, kind lifecycle.EntityType, id uuid.UUID, lock bool) (target, error) {
	switch kind {
	case lifecycle.EntityProperty:
		p, err := tx.GetProperty(ctx, id, lock)
		if err != nil {
			return target{}, err
		}
		return target{entity: p, property: p}, nil
	case lifecycle.EntityVisit:
		v, err := tx.GetVisit(ctx, id, false)
		if err != nil {
			return target{}, err
		}
		p, err := tx.GetProperty(ctx, v.PropertyID, lock)
		if err != nil {
			return target{}, err
		}
		if lock {
			if v, err = tx.GetVisit(ctx, id, true); err != nil {
				return target{}, err
			}
		}
		return target{entity: v, property: p}, nil
	case lifecycle.EntityOffer:
		of, err := tx.GetOffer(ctx, id, false)
		if err != nil {
			return target{}, err
		}
		p, err := tx.GetProperty(ctx, of.PropertyID, lock)
		if err != nil {
			return target{}, err
		}
		if lock {
			if of, err = tx.GetOffer(ctx, id, true); err != nil {
				return target{}, err
			}
		}
		return target{entity: of, property: p}, nil
	case lifecycle.EntityReservation:
		r, err := tx.GetReservation(ctx, id, false)
		if err != nil {
			return target{}, err
		}
		p, err := tx.GetProperty(ctx, r.PropertyID, lock)
		if err != nil {
			return target{}, err
		}
		if lock {
			if r, err = tx.GetReservation(ctx, id, true); err != nil {
				return target{}, err
			}
		}
		return target{entity: r, property: p}, nil
	case lifecycle.EntityAgentApplication:
		a, err := tx.GetApplication(ctx, id, lock)
		if err != nil {
			return target{}, err
		}
		return target{entity: a}, nil
	default:
		return target{}, lifecycle.Validation("unknown entity type %q", kind)
	}
}

func save(ctx context.Context, tx store.Tx, e lifecycle.Entity, prevVersion int) error {
	switch v := e.(type) {
	case *property.Property:
		return tx.UpdateProperty(ctx, v, prevVersion)
	case *visit.Visit:
		return tx.UpdateVisit(ctx, v, prevVersion)
	case *offer.Offer:
		return tx.UpdateOffer(ctx, v, prevVersion)
	case *reservation.Reservation:
		return tx.UpdateReservation(ctx, v, prevVersion)
	case *agentapp.Application:
		return tx.UpdateApplication(ctx, v, prevVersion)
	}
	return fmt.Errorf("unsupported entity %T", e)
}

// touch bumps the version and modification time of e.
func touch(e lifecycle.Entity, now time.Time) {
	switch v := e.(type) {
	case *property.Property:
		v.Version++
		v.UpdatedAt = now
	case *visit.Visit:
		v.Version++
		v.UpdatedAt = now
	case *offer.Offer:
		v.Version++
		v.UpdatedAt = now
	case *reservation.Reservation:
		v.Version++
		v.UpdatedAt = now
	case *agentapp.Application:
		v.Version++
		v.UpdatedAt = now
	}
}

// relation resolves actor's relationship to the target. Party relations take
// precedence over the admin role.
func relation(actor lifecycle.Actor, t target) lifecycle.Relation {
	if actor.System {
		return lifecycle.RelationSystem
	}
	if actor.Anonymous() {
		return lifecycle.RelationPublic
	}
	id := actor.UserID
	listingSide := func() lifecycle.Relation {
		if t.property == nil {
			return ""
		}
		if t.property.OwnerID == id {
			return lifecycle.RelationOwner
		}
		if t.property.AgentID != nil && *t.property.AgentID == id {
			return lifecycle.RelationAgent
		}
		return ""
	}

	var rel lifecycle.Relation
	switch e := t.entity.(type) {
	case *property.Property:
		rel = listingSide()
	case *visit.Visit:
		switch {
		case e.BuyerID == id:
			rel = lifecycle.RelationBuyer
		case e.AgentID == id:
			rel = lifecycle.RelationAgent
		default:
			rel = listingSide()
		}
	case *offer.Offer:
		if e.BuyerID == id {
			rel = lifecycle.RelationBuyer
		} else {
			rel = listingSide()
		}
	case *reservation.Reservation:
		if e.BuyerID == id {
			rel = lifecycle.RelationBuyer
		} else {
			rel = listingSide()
		}
	case *agentapp.Application:
		if e.UserID == id {
			rel = lifecycle.RelationApplicant
		}
	}
	if rel != "" {
		return rel
	}
	if actor.IsAdmin() {
		return lifecycle.RelationAdmin
	}
	return lifecycle.RelationPublic
}

// facts are the entity facts plus the state of its listing.
func facts(t target) lifecycle.Facts {
	f := t.entity.Facts()
	if t.property != nil {
		f = f.Merge(lifecycle.Facts{"property_status": string(t.property.Status)})
	}
	return f
}

func (o *Orchestrator) subject(ctx context.Context, tx store.Tx, actor lifecycle.Actor, t target) (access.Subject, error) {
	s := access.Subject{
		Entity:   t.entity.Kind(),
		State:    t.entity.State(),
		Facts:    facts(t),
		Relation: relation(actor, t),
	}
	if t.property == nil {
		return s, nil
	}
	s.PropertyState = t.property.Status
	s.HasAgent = t.property.AgentID != nil
	switch s.Relation {
	case lifecycle.RelationBuyer, lifecycle.RelationPublic:
		if actor.Anonymous() || actor.System {
			break
		}
		ok, err := tx.HasApprovedVisit(ctx, t.property.PropertyID, actor.UserID)
		if err != nil {
			return s, err
		}
		s.ApprovedVisit = ok
	}
	return s, nil
}

func lowerKind(kind lifecycle.EntityType) string {
	return strings.ToLower(strings.ReplaceAll(string(kind), "_", " "))
}
