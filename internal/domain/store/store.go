package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrStaleVersion     = errors.New("record was modified concurrently")
	ErrLockNotAvailable = errors.New("row lock not available")
	ErrDuplicate        = errors.New("record already exists")
)

// TxOptions tunes a unit of work.
type TxOptions struct {
	// LockTimeout bounds how long row locks are waited for. Zero means the
	// store default.
	LockTimeout time.Duration
	ReadOnly    bool
}

// DueKind names a class of time-bound state the expiry scheduler sweeps.
type DueKind string

const (
	DueReservation  DueKind = "reservation"
	DueOTP          DueKind = "otp"
	DueVisitCounter DueKind = "visit_counter"
	DueOfferCounter DueKind = "offer_counter"
)

// Store runs units of work against the entity store.
type Store interface {
	InTx(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error
	ListDue(ctx context.Context, kind DueKind, now time.Time, limit int) ([]uuid.UUID, error)
}

// Tx is the transactional view of the entity store. Get methods with lock=true
// hold the row until the transaction ends and return ErrLockNotAvailable when
// the lock cannot be taken in time. Update methods persist the record only if
// the stored version still equals prevVersion, else ErrStaleVersion.
type Tx interface {
	GetProperty(ctx context.Context, id uuid.UUID, lock bool) (*property.Property, error)
	InsertProperty(ctx context.Context, p *property.Property) error
	UpdateProperty(ctx context.Context, p *property.Property, prevVersion int) error

	GetVisit(ctx context.Context, id uuid.UUID, lock bool) (*visit.Visit, error)
	InsertVisit(ctx context.Context, v *visit.Visit) error
	UpdateVisit(ctx context.Context, v *visit.Visit, prevVersion int) error
	FindOpenVisit(ctx context.Context, propertyID, buyerID uuid.UUID) (*visit.Visit, error)
	HasApprovedVisit(ctx context.Context, propertyID, buyerID uuid.UUID) (bool, error)

	GetOffer(ctx context.Context, id uuid.UUID, lock bool) (*offer.Offer, error)
	InsertOffer(ctx context.Context, o *offer.Offer) error
	UpdateOffer(ctx context.Context, o *offer.Offer, prevVersion int) error
	FindOpenOffer(ctx context.Context, propertyID, buyerID uuid.UUID) (*offer.Offer, error)
	ListOpenOffers(ctx context.Context, propertyID uuid.UUID, lock bool) ([]*offer.Offer, error)

	GetReservation(ctx context.Context, id uuid.UUID, lock bool) (*reservation.Reservation, error)
	InsertReservation(ctx context.Context, r *reservation.Reservation) error
	UpdateReservation(ctx context.Context, r *reservation.Reservation, prevVersion int) error

	GetApplication(ctx context.Context, id uuid.UUID, lock bool) (*agentapp.Application, error)
	GetApplicationByUser(ctx context.Context, userID uuid.UUID) (*agentapp.Application, error)
	InsertApplication(ctx context.Context, a *agentapp.Application) error
	UpdateApplication(ctx context.Context, a *agentapp.Application, prevVersion int) error

	GetUser(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdateUserRole(ctx context.Context, id uuid.UUID, role user.Role) error

	// AppendAudit is the only write path into the audit log.
	AppendAudit(ctx context.Context, e *audit.Entry) error
}
