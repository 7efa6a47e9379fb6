package lifecycle

import (
	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/user"
)

// EntityType identifies a lifecycle-bearing entity.
type EntityType string

const (
	EntityProperty         EntityType = "PROPERTY"
	EntityVisit            EntityType = "VISIT"
	EntityOffer            EntityType = "OFFER"
	EntityReservation      EntityType = "RESERVATION"
	EntityAgentApplication EntityType = "AGENT_APPLICATION"
)

// State is the current status of an entity.
type State string

// Trigger is a named action that may cause a transition.
type Trigger string

// Relation is the actor's relationship to a specific entity.
type Relation string

const (
	RelationOwner     Relation = "OWNER"
	RelationAgent     Relation = "AGENT"
	RelationBuyer     Relation = "BUYER"
	RelationApplicant Relation = "APPLICANT"
	RelationAdmin     Relation = "ADMIN"
	RelationPublic    Relation = "PUBLIC"
	RelationSystem    Relation = "SYSTEM"
)

// Negotiating parties. Owner and agent act for the listing side.
const (
	PartyBuyer   = "BUYER"
	PartyListing = "LISTING"
)

// PartyOf maps a relation onto its negotiating side, or "" when it has none.
func PartyOf(rel Relation) string {
	switch rel {
	case RelationBuyer:
		return PartyBuyer
	case RelationOwner, RelationAgent:
		return PartyListing
	default:
		return ""
	}
}

// Actor is the principal requesting a mutation. The zero value is an
// unauthenticated visitor.
type Actor struct {
	UserID uuid.UUID
	Role   user.Role
	System bool
}

// SystemActor is the principal used for time-driven transitions.
func SystemActor() Actor {
	return Actor{System: true}
}

func (a Actor) Anonymous() bool {
	return !a.System && a.UserID == uuid.Nil
}

func (a Actor) IsAdmin() bool {
	return !a.System && a.Role == user.RoleAdmin
}

// AuditRole is the role recorded on audit rows.
func (a Actor) AuditRole() string {
	switch {
	case a.System:
		return "SYSTEM"
	case a.Anonymous():
		return "PUBLIC"
	default:
		return string(a.Role)
	}
}

// ID returns the actor's user id, or nil for SYSTEM and anonymous actors.
func (a Actor) ID() *uuid.UUID {
	if a.System || a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Facts are the entity fields guards and conditions are evaluated against.
type Facts map[string]interface{}

// Merge returns a copy of f overlaid with other.
func (f Facts) Merge(other Facts) Facts {
	out := make(Facts, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Entity is implemented by every lifecycle-bearing record.
type Entity interface {
	Kind() EntityType
	Key() uuid.UUID
	State() State
	SetState(State)
	Revision() int
	Facts() Facts
}
