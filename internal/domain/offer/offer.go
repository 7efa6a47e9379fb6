package offer

import (
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Status represents offer status.
type Status = lifecycle.State

const (
	StatusPending   Status = "PENDING"
	StatusCountered Status = "COUNTERED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusCompleted Status = "COMPLETED"
)

// Open reports whether the offer is still under negotiation.
func Open(s Status) bool {
	return s == StatusPending || s == StatusCountered
}

// Offer is a buyer's price proposal on a property.
type Offer struct {
	ID               int64      `json:"-"`
	OfferID          uuid.UUID  `json:"offerId"`
	PropertyID       uuid.UUID  `json:"propertyId"`
	BuyerID          uuid.UUID  `json:"buyerId"`
	Amount           int64      `json:"amount"`
	Message          string     `json:"message,omitempty"`
	Status           Status     `json:"status"`
	CounterAmount    *int64     `json:"counterAmount,omitempty"`
	CounterMessage   *string    `json:"counterMessage,omitempty"`
	CounteredBy      *string    `json:"counteredBy,omitempty"`
	CounterRounds    int        `json:"counterRounds"`
	CounterExpiresAt *time.Time `json:"counterExpiresAt,omitempty"`
	AcceptedAmount   *int64     `json:"acceptedAmount,omitempty"`
	Reason           *string    `json:"reason,omitempty"`
	DecidedAt        *time.Time `json:"decidedAt,omitempty"`
	Version          int        `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (o *Offer) Kind() lifecycle.EntityType { return lifecycle.EntityOffer }
func (o *Offer) Key() uuid.UUID             { return o.OfferID }
func (o *Offer) State() lifecycle.State     { return o.Status }
func (o *Offer) SetState(s lifecycle.State) { o.Status = s }
func (o *Offer) Revision() int              { return o.Version }

func (o *Offer) Facts() lifecycle.Facts {
	by := ""
	if o.CounteredBy != nil {
		by = *o.CounteredBy
	}
	return lifecycle.Facts{
		"status":         string(o.Status),
		"amount":         float64(o.Amount),
		"countered_by":   by,
		"counter_rounds": float64(o.CounterRounds),
	}
}

// ClearCounter drops the outstanding counter proposal.
func (o *Offer) ClearCounter() {
	o.CounterAmount = nil
	o.CounterMessage = nil
	o.CounteredBy = nil
	o.CounterExpiresAt = nil
}

// AgreedAmount is the amount on the table: the live counter if any, else the bid.
func (o *Offer) AgreedAmount() int64 {
	if o.CounterAmount != nil {
		return *o.CounterAmount
	}
	return o.Amount
}
