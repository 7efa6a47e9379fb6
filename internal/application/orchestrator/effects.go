package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

type effectFunc func(ec *effectContext) error

// effectContext is the state shared by the effects of one transition.
type effectContext struct {
	ctx  context.Context
	tx   store.Tx
	o    *Orchestrator
	step step
	tr   lifecycle.Transition

	details map[string]interface{}
	reason  string
	// after runs once the entity and its audit row are written.
	after []func() error
}

func (ec *effectContext) now() time.Time {
	return ec.step.now
}

func (ec *effectContext) payload() *Payload {
	return ec.step.payload
}

func (ec *effectContext) then(fn func() error) {
	ec.after = append(ec.after, fn)
}

func (o *Orchestrator) effectHandlers() map[lifecycle.Effect]effectFunc {
	return map[lifecycle.Effect]effectFunc{
		property.EffectApplyEdits:    applyEdits,
		property.EffectAssignAgent:   assignAgent,
		property.EffectUnassignAgent: unassignAgent,

		visit.EffectRecordCounter: recordVisitCounter,
		visit.EffectAcceptCounter: acceptVisitCounter,
		visit.EffectClearCounter:  clearVisitCounter,
		visit.EffectIssueOTP:      issueOTP,
		visit.EffectConsumeOTP:    consumeOTP,
		visit.EffectClearOTP:      clearOTP,
		visit.EffectCountOTPMiss:  countOTPMiss,
		visit.EffectRecordReason:  recordReason,
		visit.EffectFinish:        finishVisit,

		offer.EffectRecordCounter:  recordOfferCounter,
		offer.EffectClearCounter:   clearOfferCounter,
		offer.EffectRecordReason:   recordReason,
		offer.EffectSettleAmount:   settleAmount,
		offer.EffectRejectSiblings: rejectSiblings,
		offer.EffectReserve:        reserveProperty,

		reservation.EffectStamp:           stampReservation,
		reservation.EffectReleaseProperty: releaseProperty,
		reservation.EffectCloseDeal:       closeDeal,

		agentapp.EffectRecordDecision: recordDecision,
		agentapp.EffectRequireReason:  requireReason,
		agentapp.EffectDecline:        declineApplication,
		agentapp.EffectReapply:        reapply,
		agentapp.EffectGrantAgentRole: grantAgentRole,
	}
}

// Property effects.

func applyEdits(ec *effectContext) error {
	p := ec.step.target.entity.(*property.Property)
	if err := p.Apply(ec.payload().Draft); err != nil {
		return lifecycle.Validation("%s", err.Error())
	}
	ec.details["completeness"] = p.Completeness.Percent
	return nil
}

func assignAgent(ec *effectContext) error {
	p := ec.step.target.entity.(*property.Property)
	id := ec.payload().AgentID
	if id == nil || *id == uuid.Nil {
		return lifecycle.Validation("agent_id is required")
	}
	if *id == p.OwnerID {
		return lifecycle.Validation("the owner cannot be assigned as agent")
	}
	u, err := ec.tx.GetUser(ec.ctx, *id)
	if errors.Is(err, store.ErrNotFound) {
		return lifecycle.Validation("agent %s not found", id)
	}
	if err != nil {
		return err
	}
	if u.Role != user.RoleAgent || !u.IsActive() {
		return lifecycle.Validation("user %s is not an agent", id)
	}
	app, err := ec.tx.GetApplicationByUser(ec.ctx, *id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && app.Status != agentapp.StatusActive) {
		return lifecycle.Validation("agent %s does not hold an active application", id)
	}
	if err != nil {
		return err
	}
	p.AgentID = id
	ec.details["agent_id"] = id.String()
	return nil
}

func unassignAgent(ec *effectContext) error {
	p := ec.step.target.entity.(*property.Property)
	if p.AgentID != nil {
		ec.details["agent_id"] = p.AgentID.String()
	}
	p.AgentID = nil
	return nil
}

// Visit effects.

func recordVisitCounter(ec *effectContext) error {
	v := ec.step.target.entity.(*visit.Visit)
	date := ec.payload().Date
	if date == nil {
		return lifecycle.Validation("date is required")
	}
	if !date.After(ec.now()) {
		return lifecycle.Validation("counter date must be in the future")
	}
	d := date.UTC()
	party := lifecycle.PartyOf(ec.step.subject.Relation)
	expires := ec.now().Add(ec.o.policy.CounterResponseWindow)
	v.CounterDate = &d
	v.CounterMessage = ec.payload().message()
	v.CounteredBy = &party
	v.CounterRounds++
	v.CounterExpiresAt = &expires
	ec.details["counter_date"] = d
	ec.details["counter_round"] = v.CounterRounds
	ec.details["countered_by"] = party
	return nil
}

func acceptVisitCounter(ec *effectContext) error {
	v := ec.step.target.entity.(*visit.Visit)
	if v.CounterDate == nil {
		return lifecycle.Validation("no counter proposal to accept")
	}
	v.ScheduledDate = *v.CounterDate
	v.ClearCounter()
	ec.details["scheduled_date"] = v.ScheduledDate
	return nil
}

func clearVisitCounter(ec *effectContext) error {
	ec.step.target.entity.(*visit.Visit).ClearCounter()
	return nil
}

func issueOTP(ec *effectContext) error {
	v := ec.step.target.entity.(*visit.Visit)
	p := ec.step.target.property
	if p.Address.Latitude != 0 || p.Address.Longitude != 0 {
		lat, lng := ec.payload().Latitude, ec.payload().Longitude
		if lat == nil || lng == nil {
			return lifecycle.Validation("latitude and longitude are required")
		}
		if !visit.WithinGeofence(*lat, *lng, p.Address.Latitude, p.Address.Longitude, ec.o.policy.GeofenceRadiusMeters) {
			return lifecycle.Validation("%s", visit.ErrOutsideGeofence.Error())
		}
	}
	code, digest, err := visit.GenerateOTP()
	if err != nil {
		return err
	}
	expires := ec.now().Add(ec.o.policy.OTPTTL)
	v.OTPDigest = &digest
	v.OTPExpiresAt = &expires
	v.OTPConsumedAt = nil
	v.OTPAttempts = 0
	ec.step.outbox.add(Message{
		Recipient: v.BuyerID,
		Kind:      MessageVisitOTP,
		EntityID:  v.VisitID,
		Attributes: map[string]string{
			"code":       code,
			"expires_at": expires.Format(time.RFC3339),
		},
	})
	ec.details["otp_expires_at"] = expires
	return nil
}

func consumeOTP(ec *effectContext) error {
	v := ec.step.target.entity.(*visit.Visit)
	code := ec.payload().OTP
	if code == "" {
		return lifecycle.Validation("otp is required")
	}
	if v.OTPExpiresAt != nil && !ec.now().Before(*v.OTPExpiresAt) {
		return lifecycle.Validation("one-time code has expired")
	}
	if v.OTPDigest == nil || !visit.VerifyOTP(*v.OTPDigest, code) {
		return &lifecycle.Error{Code: lifecycle.CodeValidation, Message: "invalid one-time code", Err: visit.ErrOTPMismatch}
	}
	now := ec.now()
	v.OTPConsumedAt = &now
	v.OTPDigest = nil
	v.CheckedInAt = &now
	return nil
}

// countOTPMiss records a wrong code and burns the code once the attempt limit
// is reached.
func countOTPMiss(ec *effectContext) error {
	v := ec.step.target.entity.(*visit.Visit)
	v.OTPAttempts++
	ec.details["otp_attempts"] = v.OTPAttempts
	if v.OTPAttempts >= ec.o.policy.MaxOTPAttempts {
		v.ClearOTP()
		ec.details["otp_revoked"] = true
	}
	return nil
}

func clearOTP(ec *effectContext) error {
	ec.step.target.entity.(*visit.Visit).ClearOTP()
	return nil
}

func finishVisit(ec *effectContext) error {
	now := ec.now()
	ec.step.target.entity.(*visit.Visit).FinishedAt = &now
	return nil
}

// recordReason stores the optional reason on visits and offers.
func recordReason(ec *effectContext) error {
	r := ec.payload().reason()
	if r == "" {
		r = ec.step.reason
	}
	if r == "" {
		return nil
	}
	ec.reason = r
	switch e := ec.step.target.entity.(type) {
	case *visit.Visit:
		e.Reason = &r
	case *offer.Offer:
		e.Reason = &r
	}
	return nil
}

// Offer effects.

func recordOfferCounter(ec *effectContext) error {
	of := ec.step.target.entity.(*offer.Offer)
	amount := ec.payload().Amount
	if amount == nil || *amount <= 0 {
		return lifecycle.Validation("amount must be positive")
	}
	a := *amount
	party := lifecycle.PartyOf(ec.step.subject.Relation)
	expires := ec.now().Add(ec.o.policy.CounterResponseWindow)
	of.CounterAmount = &a
	of.CounterMessage = ec.payload().message()
	of.CounteredBy = &party
	of.CounterRounds++
	of.CounterExpiresAt = &expires
	ec.details["counter_amount"] = a
	ec.details["counter_round"] = of.CounterRounds
	ec.details["countered_by"] = party
	return nil
}

func clearOfferCounter(ec *effectContext) error {
	ec.step.target.entity.(*offer.Offer).ClearCounter()
	return nil
}

func settleAmount(ec *effectContext) error {
	of := ec.step.target.entity.(*offer.Offer)
	amount := of.AgreedAmount()
	now := ec.now()
	of.AcceptedAmount = &amount
	of.DecidedAt = &now
	of.ClearCounter()
	ec.details["accepted_amount"] = amount
	return nil
}

func rejectSiblings(ec *effectContext) error {
	of := ec.step.target.entity.(*offer.Offer)
	p := ec.step.target.property
	ec.then(func() error {
		siblings, err := ec.tx.ListOpenOffers(ec.ctx, p.PropertyID, true)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.OfferID == of.OfferID {
				continue
			}
			if err := ec.o.cascade(ec, target{entity: sib, property: p}, offer.TriggerRejectSibling, "another offer was accepted"); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

func reserveProperty(ec *effectContext) error {
	of := ec.step.target.entity.(*offer.Offer)
	p := ec.step.target.property
	id := uuid.New()
	until := ec.now().Add(ec.o.policy.ReservationWindow)
	ec.details["reservation_id"] = id.String()
	ec.then(func() error {
		if err := ec.o.cascade(ec, target{entity: p, property: p}, property.TriggerReserve, ""); err != nil {
			return err
		}
		now := ec.now()
		r := &reservation.Reservation{
			ReservationID: id,
			OfferID:       of.OfferID,
			PropertyID:    p.PropertyID,
			BuyerID:       of.BuyerID,
			Status:        reservation.StatusActive,
			ReservedUntil: until,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := ec.tx.InsertReservation(ec.ctx, r); err != nil {
			return err
		}
		_, err := ec.o.record(ec.ctx, ec.tx, ec.step.actor, audit.ActionCreate, r, "", r.Status, map[string]interface{}{
			"offer_id":       of.OfferID.String(),
			"reserved_until": until,
			"cascade_from":   cause{EntityType: of.Kind(), EntityID: of.OfferID, Trigger: ec.step.trigger},
		}, now)
		return err
	})
	return nil
}

// Reservation effects.

func stampReservation(ec *effectContext) error {
	now := ec.now()
	ec.step.target.entity.(*reservation.Reservation).ClosedAt = &now
	return nil
}

func releaseProperty(ec *effectContext) error {
	p := ec.step.target.property
	ec.then(func() error {
		return ec.o.cascade(ec, target{entity: p, property: p}, property.TriggerRelease, "reservation expired")
	})
	return nil
}

func closeDeal(ec *effectContext) error {
	r := ec.step.target.entity.(*reservation.Reservation)
	p := ec.step.target.property
	ec.then(func() error {
		if err := ec.o.cascade(ec, target{entity: p, property: p}, property.TriggerMarkSold, ""); err != nil {
			return err
		}
		of, err := ec.tx.GetOffer(ec.ctx, r.OfferID, true)
		if err != nil {
			return err
		}
		return ec.o.cascade(ec, target{entity: of, property: p}, offer.TriggerComplete, "")
	})
	return nil
}

// Agent application effects.

func requireReason(ec *effectContext) error {
	r := ec.payload().reason()
	if r == "" {
		return lifecycle.Validation("reason is required")
	}
	ec.reason = r
	return nil
}

func recordDecision(ec *effectContext) error {
	a := ec.step.target.entity.(*agentapp.Application)
	if ec.reason == "" {
		ec.reason = ec.payload().reason()
	}
	a.Record(agentapp.Decision{
		Trigger:   ec.step.trigger,
		From:      ec.tr.From,
		To:        ec.tr.To,
		DecidedBy: ec.step.actor.ID(),
		Reason:    ec.reason,
		DecidedAt: ec.now(),
	})
	return nil
}

func declineApplication(ec *effectContext) error {
	a := ec.step.target.entity.(*agentapp.Application)
	if ec.payload().Final || a.ReapplyCount >= ec.o.policy.MaxReapplications {
		a.DeclinedFinal = true
	}
	ec.details["final"] = a.DeclinedFinal
	return nil
}

func reapply(ec *effectContext) error {
	a := ec.step.target.entity.(*agentapp.Application)
	p := ec.payload()
	if p.LicenseNumber != nil {
		if *p.LicenseNumber == "" {
			return lifecycle.Validation("license_number must not be empty")
		}
		a.LicenseNumber = *p.LicenseNumber
	}
	if p.Agency != nil {
		a.Agency = *p.Agency
	}
	if p.YearsExperience != nil {
		if *p.YearsExperience < 0 {
			return lifecycle.Validation("years_experience must not be negative")
		}
		a.YearsExperience = *p.YearsExperience
	}
	if p.ServiceAreas != nil {
		a.ServiceAreas = p.ServiceAreas
	}
	a.ReapplyCount++
	ec.details["reapply_count"] = a.ReapplyCount
	return nil
}

func grantAgentRole(ec *effectContext) error {
	a := ec.step.target.entity.(*agentapp.Application)
	u, err := ec.tx.GetUser(ec.ctx, a.UserID)
	if err != nil {
		return err
	}
	if u.Role == user.RoleAdmin || u.Role == user.RoleAgent {
		return nil
	}
	if err := ec.tx.UpdateUserRole(ec.ctx, a.UserID, user.RoleAgent); err != nil {
		return err
	}
	ec.details["granted_role"] = string(user.RoleAgent)
	return nil
}
