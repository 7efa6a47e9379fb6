package audit

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_reader.go -package=mocks . Reader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// ActionCreate is recorded for entity creation; every other action is the
// trigger name.
const ActionCreate = "create"

// Entry is one immutable audit row.
type Entry struct {
	ID         int64                `json:"id"`
	AuditID    uuid.UUID            `json:"auditId"`
	ActorID    *uuid.UUID           `json:"actorId,omitempty"`
	ActorRole  string               `json:"actorRole"`
	Action     string               `json:"action"`
	EntityType lifecycle.EntityType `json:"entityType"`
	EntityID   uuid.UUID            `json:"entityId"`
	PriorState lifecycle.State      `json:"priorState"`
	NewState   lifecycle.State      `json:"newState"`
	Details    json.RawMessage      `json:"details,omitempty"`
	Signature  []byte               `json:"signature,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// NewEntry builds an entry for a state change made by actor.
func NewEntry(actor lifecycle.Actor, action string, entity lifecycle.EntityType, id uuid.UUID, prior, next lifecycle.State, details map[string]interface{}, now time.Time) (*Entry, error) {
	raw := json.RawMessage(`{}`)
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Entry{
		AuditID:    uuid.New(),
		ActorID:    actor.ID(),
		ActorRole:  actor.AuditRole(),
		Action:     action,
		EntityType: entity,
		EntityID:   id,
		PriorState: prior,
		NewState:   next,
		Details:    raw,
		CreatedAt:  now.UTC().Truncate(time.Microsecond),
	}, nil
}

// Filter narrows audit queries.
type Filter struct {
	EntityType *lifecycle.EntityType
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	Action     *string
	StartTime  *time.Time
	EndTime    *time.Time
}

// Matches reports whether e satisfies f.
func (f Filter) Matches(e *Entry) bool {
	if f.EntityType != nil && e.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

// Reader is the read-only view of the audit log. Entries are appended by the
// mutation transaction only; nothing updates or deletes them.
type Reader interface {
	GetByID(ctx context.Context, auditID uuid.UUID) (*Entry, error)
	Query(ctx context.Context, filter Filter, limit, offset int) ([]*Entry, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}
