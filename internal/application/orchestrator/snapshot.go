package orchestrator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// Snapshot is an entity as one actor is allowed to see it, with the actions
// that actor may take next. It encodes as the entity's own fields with the
// envelope keys alongside them.
type Snapshot struct {
	EntityType     lifecycle.EntityType    `json:"entity_type"`
	EntityID       uuid.UUID               `json:"entity_id"`
	Status         lifecycle.State         `json:"status"`
	DisplayStatus  string                  `json:"display_status"`
	Version        int                     `json:"version"`
	AllowedActions []lifecycle.Trigger     `json:"allowed_actions"`
	Visibility     access.Flags            `json:"visibility"`
	Data           interface{}             `json:"-"`
	Contacts       map[string]user.Contact `json:"contacts,omitempty"`
}

func (s Snapshot) fields() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if s.Data != nil {
		raw, err := json.Marshal(s.Data)
		if err != nil {
			return nil, err
		}
		var entity map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entity); err != nil {
			return nil, err
		}
		for k, v := range entity {
			out[k] = v
		}
	}
	out["entity_type"] = s.EntityType
	out["entity_id"] = s.EntityID
	out["status"] = s.Status
	out["display_status"] = s.DisplayStatus
	out["version"] = s.Version
	out["allowed_actions"] = s.AllowedActions
	out["visibility"] = s.Visibility
	if len(s.Contacts) > 0 {
		out["contacts"] = s.Contacts
	}
	return out, nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	out, err := s.fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// MarshalJSON adds the transition keys to the snapshot fields.
func (r Result) MarshalJSON() ([]byte, error) {
	out, err := r.Snapshot.fields()
	if err != nil {
		return nil, err
	}
	out["prior_status"] = r.PriorStatus
	out["new_status"] = r.NewStatus
	out["audit_id"] = r.AuditID
	return json.Marshal(out)
}

// propertyView replaces the exact address with the coarse area when the actor
// may not see it.
type propertyView struct {
	*property.Property
	Address interface{} `json:"address"`
}

func (o *Orchestrator) snapshot(ctx context.Context, tx store.Tx, actor lifecycle.Actor, t target) (*Snapshot, error) {
	subject, err := o.subject(ctx, tx, actor, t)
	if err != nil {
		return nil, err
	}
	if !access.CanView(subject) {
		return nil, lifecycle.NotFound(t.entity.Kind(), t.entity.Key())
	}
	res := o.resolver.Resolve(subject)
	snap := &Snapshot{
		EntityType:     t.entity.Kind(),
		EntityID:       t.entity.Key(),
		Status:         t.entity.State(),
		DisplayStatus:  res.DisplayStatus,
		Version:        t.entity.Revision(),
		AllowedActions: res.AllowedActions,
		Visibility:     res.Visibility,
		Data:           t.entity,
	}
	if p, ok := t.entity.(*property.Property); ok {
		view := propertyView{Property: p, Address: p.Address.Area()}
		if res.Visibility.Has(access.FlagExactAddress) {
			view.Address = p.Address
		}
		snap.Data = view
	}
	contacts, err := o.contacts(ctx, tx, t, res.Visibility)
	if err != nil {
		return nil, err
	}
	if len(contacts) > 0 {
		snap.Contacts = contacts
	}
	return snap, nil
}

func (o *Orchestrator) contacts(ctx context.Context, tx store.Tx, t target, vis access.Flags) (map[string]user.Contact, error) {
	out := map[string]user.Contact{}
	add := func(key string, id *uuid.UUID) error {
		if id == nil || *id == uuid.Nil {
			return nil
		}
		u, err := tx.GetUser(ctx, *id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out[key] = u.Contact()
		return nil
	}
	if t.property != nil {
		if vis.Has(access.FlagSellerContact) {
			owner := t.property.OwnerID
			if err := add("seller", &owner); err != nil {
				return nil, err
			}
		}
		if vis.Has(access.FlagAgentContact) {
			if err := add("agent", t.property.AgentID); err != nil {
				return nil, err
			}
		}
	}
	if vis.Has(access.FlagBuyerContact) {
		var buyer *uuid.UUID
		switch e := t.entity.(type) {
		case *visit.Visit:
			buyer = &e.BuyerID
		case *offer.Offer:
			buyer = &e.BuyerID
		case *reservation.Reservation:
			buyer = &e.BuyerID
		}
		if err := add("buyer", buyer); err != nil {
			return nil, err
		}
	}
	if a, ok := t.entity.(*agentapp.Application); ok && vis.Has(access.FlagAgentContact) {
		if err := add("applicant", &a.UserID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
