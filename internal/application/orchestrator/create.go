package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

// VisitRequest is the input of RequestVisit.
type VisitRequest struct {
	ScheduledDate time.Time `json:"scheduled_date"`
	Message       string    `json:"message,omitempty"`
}

// OfferRequest is the input of SubmitOffer.
type OfferRequest struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message,omitempty"`
}

// ApplicationRequest is the input of SubmitApplication.
type ApplicationRequest struct {
	LicenseNumber   string   `json:"license_number"`
	Agency          string   `json:"agency"`
	YearsExperience int      `json:"years_experience"`
	ServiceAreas    []string `json:"service_areas,omitempty"`
}

func requireRole(actor lifecycle.Actor, roles ...user.Role) error {
	if actor.System || actor.Anonymous() {
		return lifecycle.Unauthorized("authentication required")
	}
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return lifecycle.Unauthorized("role %s may not perform this action", actor.Role)
}

// CreateProperty opens a DRAFT listing owned by actor.
func (o *Orchestrator) CreateProperty(ctx context.Context, actor lifecycle.Actor, draft property.Draft) (*Snapshot, error) {
	if err := requireRole(actor, user.RoleSeller); err != nil {
		return nil, err
	}
	var snap *Snapshot
	err := o.store.InTx(ctx, store.TxOptions{LockTimeout: o.lockTimeout}, func(tx store.Tx) error {
		now := o.now()
		p := &property.Property{
			PropertyID: uuid.New(),
			OwnerID:    actor.UserID,
			Status:     property.StatusDraft,
			Media:      []property.Media{},
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.Apply(draft); err != nil {
			return lifecycle.Validation("%s", err.Error())
		}
		if err := tx.InsertProperty(ctx, p); err != nil {
			return err
		}
		if _, err := o.record(ctx, tx, actor, audit.ActionCreate, p, "", p.Status, map[string]interface{}{
			"completeness": p.Completeness.Percent,
		}, now); err != nil {
			return err
		}
		var err error
		snap, err = o.snapshot(ctx, tx, actor, target{entity: p, property: p})
		return err
	})
	if err != nil {
		return nil, translateStoreError(err, lifecycle.EntityProperty, uuid.Nil)
	}
	o.logger.Info().Str("property_id", snap.EntityID.String()).Msg("property created")
	return snap, nil
}

// listingForBuyer locks the listing a buyer is acting on and checks it is open
// to them.
func listingForBuyer(ctx context.Context, tx store.Tx, actor lifecycle.Actor, propertyID uuid.UUID, action string) (*property.Property, error) {
	p, err := tx.GetProperty(ctx, propertyID, true)
	if err != nil {
		return nil, err
	}
	if p.OwnerID == actor.UserID {
		return nil, lifecycle.Unauthorized("owners cannot %s on their own listing", action)
	}
	if !access.PubliclyListed(p.Status) {
		return nil, lifecycle.NotFound(lifecycle.EntityProperty, propertyID)
	}
	if p.Status != property.StatusActive {
		return nil, &lifecycle.Error{
			Code:         lifecycle.CodeInvalidTransition,
			Message:      "listing is not accepting " + action + "s",
			CurrentState: p.Status,
		}
	}
	return p, nil
}

// RequestVisit opens a REQUESTED visit on an ACTIVE listing.
func (o *Orchestrator) RequestVisit(ctx context.Context, actor lifecycle.Actor, propertyID uuid.UUID, req VisitRequest) (*Snapshot, error) {
	if err := requireRole(actor, user.RoleBuyer); err != nil {
		return nil, err
	}
	var snap *Snapshot
	err := o.store.InTx(ctx, store.TxOptions{LockTimeout: o.lockTimeout}, func(tx store.Tx) error {
		now := o.now()
		p, err := listingForBuyer(ctx, tx, actor, propertyID, "visit")
		if err != nil {
			return err
		}
		if !req.ScheduledDate.After(now) {
			return lifecycle.Validation("scheduled_date must be in the future")
		}
		if p.AgentID == nil {
			return lifecycle.Validation("listing has no agent to host visits")
		}
		open, err := tx.FindOpenVisit(ctx, propertyID, actor.UserID)
		if err != nil {
			return err
		}
		if open != nil {
			return lifecycle.Conflict("visit %s is already open for this listing", open.VisitID)
		}
		v := &visit.Visit{
			VisitID:       uuid.New(),
			PropertyID:    propertyID,
			BuyerID:       actor.UserID,
			AgentID:       *p.AgentID,
			Status:        visit.StatusRequested,
			ScheduledDate: req.ScheduledDate.UTC(),
			Message:       strings.TrimSpace(req.Message),
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		if _, err := o.record(ctx, tx, actor, audit.ActionCreate, v, "", v.Status, map[string]interface{}{
			"property_id":    propertyID.String(),
			"scheduled_date": v.ScheduledDate,
		}, now); err != nil {
			return err
		}
		snap, err = o.snapshot(ctx, tx, actor, target{entity: v, property: p})
		return err
	})
	if err != nil {
		return nil, translateStoreError(err, lifecycle.EntityProperty, propertyID)
	}
	return snap, nil
}

// SubmitOffer opens a PENDING offer on an ACTIVE listing.
func (o *Orchestrator) SubmitOffer(ctx context.Context, actor lifecycle.Actor, propertyID uuid.UUID, req OfferRequest) (*Snapshot, error) {
	if err := requireRole(actor, user.RoleBuyer); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, lifecycle.Validation("amount must be positive")
	}
	var snap *Snapshot
	err := o.store.InTx(ctx, store.TxOptions{LockTimeout: o.lockTimeout}, func(tx store.Tx) error {
		now := o.now()
		p, err := listingForBuyer(ctx, tx, actor, propertyID, "offer")
		if err != nil {
			return err
		}
		open, err := tx.FindOpenOffer(ctx, propertyID, actor.UserID)
		if err != nil {
			return err
		}
		if open != nil {
			return lifecycle.Conflict("offer %s is already open for this listing", open.OfferID)
		}
		of := &offer.Offer{
			OfferID:    uuid.New(),
			PropertyID: propertyID,
			BuyerID:    actor.UserID,
			Amount:     req.Amount,
			Message:    strings.TrimSpace(req.Message),
			Status:     offer.StatusPending,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOffer(ctx, of); err != nil {
			return err
		}
		if _, err := o.record(ctx, tx, actor, audit.ActionCreate, of, "", of.Status, map[string]interface{}{
			"property_id": propertyID.String(),
			"amount":      of.Amount,
		}, now); err != nil {
			return err
		}
		snap, err = o.snapshot(ctx, tx, actor, target{entity: of, property: p})
		return err
	})
	if err != nil {
		return nil, translateStoreError(err, lifecycle.EntityProperty, propertyID)
	}
	return snap, nil
}

// SubmitApplication opens the actor's agent application. Each user holds at
// most one; a declined applicant reapplies on it.
func (o *Orchestrator) SubmitApplication(ctx context.Context, actor lifecycle.Actor, req ApplicationRequest) (*Snapshot, error) {
	if err := requireRole(actor, user.RoleBuyer, user.RoleSeller); err != nil {
		return nil, err
	}
	license := strings.TrimSpace(req.LicenseNumber)
	if license == "" {
		return nil, lifecycle.Validation("license_number is required")
	}
	if req.YearsExperience < 0 {
		return nil, lifecycle.Validation("years_experience must not be negative")
	}
	var snap *Snapshot
	err := o.store.InTx(ctx, store.TxOptions{LockTimeout: o.lockTimeout}, func(tx store.Tx) error {
		now := o.now()
		existing, err := tx.GetApplicationByUser(ctx, actor.UserID)
		if err == nil {
			return lifecycle.Conflict("application %s already exists", existing.ApplicationID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		areas := req.ServiceAreas
		if areas == nil {
			areas = []string{}
		}
		a := &agentapp.Application{
			ApplicationID:   uuid.New(),
			UserID:          actor.UserID,
			LicenseNumber:   license,
			Agency:          strings.TrimSpace(req.Agency),
			YearsExperience: req.YearsExperience,
			ServiceAreas:    areas,
			Status:          agentapp.StatusPendingVerification,
			Decisions:       []agentapp.Decision{},
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertApplication(ctx, a); err != nil {
			return err
		}
		if _, err := o.record(ctx, tx, actor, audit.ActionCreate, a, "", a.Status, map[string]interface{}{
			"license_number": a.LicenseNumber,
		}, now); err != nil {
			return err
		}
		snap, err = o.snapshot(ctx, tx, actor, target{entity: a})
		return err
	})
	if err != nil {
		return nil, translateStoreError(err, lifecycle.EntityAgentApplication, uuid.Nil)
	}
	return snap, nil
}
