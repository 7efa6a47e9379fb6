package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Status represents reservation status.
type Status = lifecycle.State

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusConverted Status = "CONVERTED"
)

const (
	TriggerExpire  lifecycle.Trigger = "expire"
	TriggerConvert lifecycle.Trigger = "convert"
)

const (
	EffectReleaseProperty lifecycle.Effect = "reservation.release_property"
	EffectCloseDeal       lifecycle.Effect = "reservation.close_deal"
	EffectStamp           lifecycle.Effect = "reservation.stamp"
)

// Reservation holds a property for an accepted offer until ReservedUntil.
type Reservation struct {
	ID            int64      `json:"-"`
	ReservationID uuid.UUID  `json:"reservationId"`
	OfferID       uuid.UUID  `json:"offerId"`
	PropertyID    uuid.UUID  `json:"propertyId"`
	BuyerID       uuid.UUID  `json:"buyerId"`
	Status        Status     `json:"status"`
	ReservedUntil time.Time  `json:"reservedUntil"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (r *Reservation) Kind() lifecycle.EntityType { return lifecycle.EntityReservation }
func (r *Reservation) Key() uuid.UUID             { return r.ReservationID }
func (r *Reservation) State() lifecycle.State     { return r.Status }
func (r *Reservation) SetState(s lifecycle.State) { r.Status = s }
func (r *Reservation) Revision() int              { return r.Version }

func (r *Reservation) Facts() lifecycle.Facts {
	return lifecycle.Facts{"status": string(r.Status)}
}

// Due reports whether the reservation has lapsed at now.
func (r *Reservation) Due(now time.Time) bool {
	return r.Status == StatusActive && !now.Before(r.ReservedUntil)
}

// Table is the reservation state machine. Both exits are terminal.
func Table() lifecycle.Table {
	return lifecycle.Table{
		Entity: lifecycle.EntityReservation,
		States: []lifecycle.State{StatusActive, StatusExpired, StatusConverted},
		Transitions: []lifecycle.Transition{
			{
				From: StatusActive, Trigger: TriggerExpire, To: StatusExpired,
				Relations: []lifecycle.Relation{lifecycle.RelationSystem},
				Effects:   []lifecycle.Effect{EffectStamp, EffectReleaseProperty},
			},
			{
				From: StatusActive, Trigger: TriggerConvert, To: StatusConverted,
				Relations: []lifecycle.Relation{lifecycle.RelationOwner, lifecycle.RelationAgent, lifecycle.RelationAdmin},
				Effects:   []lifecycle.Effect{EffectStamp, EffectCloseDeal},
			},
		},
	}
}
