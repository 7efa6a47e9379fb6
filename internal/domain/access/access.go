package access

import (
	"strings"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// Visibility flags.
const (
	FlagVisible       = "visible"
	FlagExactAddress  = "exact_address"
	FlagSellerContact = "seller_contact"
	FlagAgentContact  = "agent_contact"
	FlagBuyerContact  = "buyer_contact"
)

// Flags is the per-field disclosure set returned with every snapshot.
type Flags map[string]bool

func (f Flags) Has(flag string) bool {
	return f[flag]
}

// Subject is everything the resolver needs to know about an entity and the
// actor looking at it.
type Subject struct {
	Entity   lifecycle.EntityType
	State    lifecycle.State
	Facts    lifecycle.Facts
	Relation lifecycle.Relation

	// PropertyState is the state of the listing the entity belongs to.
	PropertyState lifecycle.State
	// ApprovedVisit is true when the actor, as a buyer, holds a visit on the
	// listing that reached APPROVED or later.
	ApprovedVisit bool
	// HasAgent is true when an agent is assigned to the listing.
	HasAgent bool
}

// Resolution is the declarative answer the UI renders verbatim.
type Resolution struct {
	AllowedActions []lifecycle.Trigger `json:"allowed_actions"`
	Visibility     Flags               `json:"visibility"`
	DisplayStatus  string              `json:"display_status"`
}

// Resolver computes allowed actions and visibility. It never mutates.
type Resolver struct {
	registry *lifecycle.Registry
}

func NewResolver(registry *lifecycle.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve computes the resolution for s.
func (r *Resolver) Resolve(s Subject) Resolution {
	vis := Visibility(s)
	res := Resolution{
		AllowedActions: []lifecycle.Trigger{},
		Visibility:     vis,
		DisplayStatus:  DisplayStatus(s.Entity, s.State, s.Relation),
	}
	if !vis.Has(FlagVisible) {
		return res
	}
	for _, tr := range r.registry.Transitions(s.Entity, s.State) {
		if r.Authorize(s, tr) != nil {
			continue
		}
		res.AllowedActions = append(res.AllowedActions, tr.Trigger)
	}
	return res
}

// Authorize checks that the subject's relation may fire tr in the current
// state of the entity. Payload validation is not part of it.
func (r *Resolver) Authorize(s Subject, tr lifecycle.Transition) error {
	if !tr.Permits(s.Relation) {
		return lifecycle.Unauthorized("%s may not %s this %s", strings.ToLower(string(s.Relation)), tr.Trigger, strings.ToLower(string(s.Entity)))
	}
	return r.registry.Check(s.Entity, tr, s.Facts, s.Relation)
}

// CanView reports whether the subject may see the entity at all.
func CanView(s Subject) bool {
	return Visibility(s).Has(FlagVisible)
}

// Visibility computes disclosure flags from entity state and relation.
func Visibility(s Subject) Flags {
	f := Flags{
		FlagVisible:       false,
		FlagExactAddress:  false,
		FlagSellerContact: false,
		FlagAgentContact:  false,
		FlagBuyerContact:  false,
	}
	if s.Relation == lifecycle.RelationSystem {
		for k := range f {
			f[k] = true
		}
		return f
	}
	switch s.Entity {
	case lifecycle.EntityProperty:
		propertyVisibility(s, f)
	case lifecycle.EntityVisit:
		visitVisibility(s, f)
	case lifecycle.EntityOffer:
		offerVisibility(s, f)
	case lifecycle.EntityReservation:
		switch s.Relation {
		case lifecycle.RelationBuyer, lifecycle.RelationOwner, lifecycle.RelationAgent, lifecycle.RelationAdmin:
			f[FlagVisible] = true
			f[FlagExactAddress] = true
			f[FlagSellerContact] = true
			f[FlagAgentContact] = s.HasAgent
			f[FlagBuyerContact] = true
		}
	case lifecycle.EntityAgentApplication:
		switch s.Relation {
		case lifecycle.RelationApplicant:
			f[FlagVisible] = true
		case lifecycle.RelationAdmin:
			f[FlagVisible] = true
			f[FlagAgentContact] = true
		}
	}
	return f
}

// PubliclyListed reports whether a listing in state is shown to actors with
// no relation to it.
func PubliclyListed(state lifecycle.State) bool {
	return state == property.StatusActive || state == property.StatusReserved
}

func prelisting(state lifecycle.State) bool {
	return state == property.StatusDraft || state == property.StatusPendingAssignment
}

func propertyVisibility(s Subject, f Flags) {
	switch s.Relation {
	case lifecycle.RelationOwner:
		f[FlagVisible] = true
		f[FlagExactAddress] = true
		f[FlagSellerContact] = true
		f[FlagAgentContact] = s.HasAgent
	case lifecycle.RelationAgent, lifecycle.RelationAdmin:
		f[FlagVisible] = true
		if prelisting(s.State) {
			return
		}
		f[FlagExactAddress] = true
		f[FlagSellerContact] = true
		f[FlagAgentContact] = s.HasAgent
	default:
		if !PubliclyListed(s.State) {
			return
		}
		f[FlagVisible] = true
		if s.ApprovedVisit {
			f[FlagExactAddress] = true
			f[FlagSellerContact] = true
			f[FlagAgentContact] = s.HasAgent
		}
	}
}

func visitVisibility(s Subject, f Flags) {
	approved := visit.Approved(s.State)
	switch s.Relation {
	case lifecycle.RelationBuyer:
		f[FlagVisible] = true
		f[FlagBuyerContact] = true
		f[FlagExactAddress] = approved
		f[FlagSellerContact] = approved
		f[FlagAgentContact] = approved
	case lifecycle.RelationAgent, lifecycle.RelationOwner, lifecycle.RelationAdmin:
		f[FlagVisible] = true
		f[FlagExactAddress] = true
		f[FlagSellerContact] = true
		f[FlagAgentContact] = true
		f[FlagBuyerContact] = approved
	}
}

func offerVisibility(s Subject, f Flags) {
	accepted := s.State == offer.StatusAccepted || s.State == offer.StatusCompleted
	switch s.Relation {
	case lifecycle.RelationBuyer:
		f[FlagVisible] = true
		f[FlagBuyerContact] = true
		f[FlagExactAddress] = accepted || s.ApprovedVisit
		f[FlagSellerContact] = accepted
		f[FlagAgentContact] = (accepted || s.ApprovedVisit) && s.HasAgent
	case lifecycle.RelationAgent, lifecycle.RelationOwner, lifecycle.RelationAdmin:
		f[FlagVisible] = true
		f[FlagExactAddress] = true
		f[FlagSellerContact] = true
		f[FlagAgentContact] = s.HasAgent
		f[FlagBuyerContact] = accepted
	}
}
