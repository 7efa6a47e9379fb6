package orchestrator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfind/nestfind/internal/domain/access"
	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

func TestPropertyReachesActiveWithOneAuditRowPerStep(t *testing.T) {
	f := newFixture(t)
	id := f.activeListing()

	snap := f.get(f.seller, lifecycle.EntityProperty, id)
	assert.Equal(t, property.StatusActive, snap.Status)
	assert.Equal(t, 5, snap.Version)

	entries := f.auditFor(id)
	require.Len(t, entries, 5)
	actions := []string{}
	for i := len(entries) - 1; i >= 0; i-- {
		actions = append(actions, entries[i].Action)
	}
	assert.Equal(t, []string{"create", "submit", "assign_agent", "start_verification", "verify"}, actions)
	assert.Equal(t, lifecycle.State(""), entries[len(entries)-1].PriorState)
}

func TestSubmitIncompleteListing(t *testing.T) {
	f := newFixture(t)
	title := "Bare listing"
	snap, err := f.orch.CreateProperty(f.ctx, f.seller, property.Draft{Title: &title})
	require.NoError(t, err)
	before := f.totalAudit()

	_, err = f.exec(f.seller, lifecycle.EntityProperty, snap.EntityID, property.TriggerSubmit, nil)
	requireCode(t, err, lifecycle.CodeValidation)

	after := f.get(f.seller, lifecycle.EntityProperty, snap.EntityID)
	assert.Equal(t, property.StatusDraft, after.Status)
	assert.Equal(t, before, f.totalAudit())
	assert.NotContains(t, after.AllowedActions, property.TriggerSubmit)
	assert.Contains(t, after.AllowedActions, property.TriggerEdit)
}

func TestOnlySellersCreateListings(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.CreateProperty(f.ctx, f.buyer, completeDraft())
	requireCode(t, err, lifecycle.CodeUnauthorized)
}

func TestVisitCounterNegotiation(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)

	proposed := f.now.Add(72 * time.Hour)
	res := f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCounter, map[string]interface{}{
		"date":    proposed,
		"message": "Afternoon works better",
	})
	assert.Equal(t, visit.StatusCountered, res.Status)
	assert.Equal(t, visit.StatusRequested, res.PriorStatus)
	assert.NotContains(t, res.AllowedActions, visit.TriggerAcceptCounter, "proposer must not see accept_counter")

	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerAcceptCounter, nil)
	requireCode(t, err, lifecycle.CodeUnauthorized)

	buyerView := f.get(f.buyer, lifecycle.EntityVisit, vid)
	assert.Contains(t, buyerView.AllowedActions, visit.TriggerAcceptCounter)
	assert.Contains(t, buyerView.AllowedActions, visit.TriggerCounter)

	res = f.mustExec(f.buyer, lifecycle.EntityVisit, vid, visit.TriggerAcceptCounter, nil)
	assert.Equal(t, visit.StatusApproved, res.Status)
	v := res.Data.(*visit.Visit)
	assert.True(t, v.ScheduledDate.Equal(proposed))
	assert.Nil(t, v.CounterDate)
	assert.Nil(t, v.CounteredBy)

	entries := f.auditFor(vid)
	require.Len(t, entries, 3)
	assert.Equal(t, "accept_counter", entries[0].Action)
	assert.Equal(t, visit.StatusCountered, entries[0].PriorState)
	assert.Equal(t, visit.StatusApproved, entries[0].NewState)
}

func TestCounterDateInThePast(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)

	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCounter, map[string]interface{}{
		"date": f.now.Add(-time.Hour),
	})
	requireCode(t, err, lifecycle.CodeValidation)
	assert.Equal(t, visit.StatusRequested, f.get(f.buyer, lifecycle.EntityVisit, vid).Status)
}

func TestCounterRoundsAreBounded(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)

	actors := []lifecycle.Actor{f.agent, f.buyer}
	for i := 0; i < DefaultPolicy().MaxCounterRounds; i++ {
		f.mustExec(actors[i%2], lifecycle.EntityVisit, vid, visit.TriggerCounter, map[string]interface{}{
			"date": f.now.Add(time.Duration(48+i) * time.Hour),
		})
	}
	next := actors[DefaultPolicy().MaxCounterRounds%2]
	_, err := f.exec(next, lifecycle.EntityVisit, vid, visit.TriggerCounter, map[string]interface{}{
		"date": f.now.Add(96 * time.Hour),
	})
	requireCode(t, err, lifecycle.CodeValidation)
}

func TestInvalidTransitionChangesNothing(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)
	before := f.get(f.agent, lifecycle.EntityVisit, vid)
	rows := f.totalAudit()

	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": "123456"})
	e := requireCode(t, err, lifecycle.CodeInvalidTransition)
	assert.Equal(t, visit.StatusRequested, e.CurrentState)
	assert.Contains(t, e.ValidTriggers, visit.TriggerApprove)

	_, err = f.exec(f.agent, lifecycle.EntityVisit, vid, "teleport", nil)
	requireCode(t, err, lifecycle.CodeInvalidTransition)

	after := f.get(f.agent, lifecycle.EntityVisit, vid)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, rows, f.totalAudit())
}

func TestUnrelatedActorIsRejected(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)

	_, err := f.exec(f.buyer, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	requireCode(t, err, lifecycle.CodeUnauthorized)

	_, err = f.exec(f.buyer2, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	requireCode(t, err, lifecycle.CodeNotFound)
}

func TestOfferAcceptanceCascades(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	winner := f.submitOffer(f.buyer, pid, 240000)
	loser := f.submitOffer(f.buyer2, pid, 235000)
	rows := f.totalAudit()

	res := f.mustExec(f.seller, lifecycle.EntityOffer, winner, offer.TriggerAccept, nil)
	assert.Equal(t, offer.StatusAccepted, res.Status)
	accepted := res.Data.(*offer.Offer)
	require.NotNil(t, accepted.AcceptedAmount)
	assert.Equal(t, int64(240000), *accepted.AcceptedAmount)

	sibling := f.get(f.buyer2, lifecycle.EntityOffer, loser)
	assert.Equal(t, offer.StatusRejected, sibling.Status)
	assert.Empty(t, sibling.AllowedActions)

	prop := f.get(f.seller, lifecycle.EntityProperty, pid)
	assert.Equal(t, property.StatusReserved, prop.Status)

	// accept, reject_sibling, reserve, reservation create
	assert.Equal(t, rows+4, f.totalAudit())

	siblingRows := f.auditFor(loser)
	require.Equal(t, "reject_sibling", siblingRows[0].Action)
	require.NotNil(t, siblingRows[0].ActorID)
	assert.Equal(t, f.seller.UserID, *siblingRows[0].ActorID)
	assert.Contains(t, string(siblingRows[0].Details), "cascade_from")

	reserved, err := f.store.Audit().Query(f.ctx, audit.Filter{EntityType: ptr(lifecycle.EntityReservation)}, 0, 0)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	r := f.get(f.buyer, lifecycle.EntityReservation, reserved[0].EntityID)
	assert.Equal(t, reservation.StatusActive, r.Status)
	assert.True(t, r.Data.(*reservation.Reservation).ReservedUntil.Equal(f.now.Add(72*time.Hour)))

	_, err = f.exec(f.seller, lifecycle.EntityOffer, loser, offer.TriggerAccept, nil)
	requireCode(t, err, lifecycle.CodeInvalidTransition)
}

func TestOfferOnReservedListingIsInvalid(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	first := f.submitOffer(f.buyer, pid, 240000)
	f.mustExec(f.seller, lifecycle.EntityOffer, first, offer.TriggerAccept, nil)

	_, err := f.orch.SubmitOffer(f.ctx, f.buyer2, pid, OfferRequest{Amount: 260000})
	requireCode(t, err, lifecycle.CodeInvalidTransition)
}

func TestOfferCounterAcceptedUsesCounterAmount(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	oid := f.submitOffer(f.buyer, pid, 200000)

	f.mustExec(f.agent, lifecycle.EntityOffer, oid, offer.TriggerCounter, map[string]interface{}{"amount": 230000})
	res := f.mustExec(f.buyer, lifecycle.EntityOffer, oid, offer.TriggerAcceptCounter, nil)
	assert.Equal(t, int64(230000), *res.Data.(*offer.Offer).AcceptedAmount)
}

func TestAuditFailureRollsBackMutation(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)
	rows := f.totalAudit()

	f.store.FailAuditWith(errors.New("audit volume full"))
	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	require.Error(t, err)
	assert.Equal(t, lifecycle.Code(""), lifecycle.CodeOf(err))
	f.store.FailAuditWith(nil)

	snap := f.get(f.agent, lifecycle.EntityVisit, vid)
	assert.Equal(t, visit.StatusRequested, snap.Status)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, rows, f.totalAudit())

	f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
}

func TestAuditFailureRollsBackCascade(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	oid := f.submitOffer(f.buyer, pid, 240000)

	f.store.FailAuditWith(errors.New("audit volume full"))
	_, err := f.exec(f.seller, lifecycle.EntityOffer, oid, offer.TriggerAccept, nil)
	require.Error(t, err)
	f.store.FailAuditWith(nil)

	assert.Equal(t, property.StatusActive, f.get(f.seller, lifecycle.EntityProperty, pid).Status)
	assert.Equal(t, offer.StatusPending, f.get(f.seller, lifecycle.EntityOffer, oid).Status)
}

func TestConcurrentApprovalsOneConflict(t *testing.T) {
	f := newFixture(t)
	applicant := f.user("applicant", user.RoleBuyer)
	snap, err := f.orch.SubmitApplication(f.ctx, applicant, ApplicationRequest{LicenseNumber: "RERA-77"})
	require.NoError(t, err)
	res := f.mustExec(f.admin, lifecycle.EntityAgentApplication, snap.EntityID, agentapp.TriggerVerifyDocuments, nil)
	version := res.Version

	admins := []lifecycle.Actor{f.admin, f.admin2}
	errs := make([]error, len(admins))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, a := range admins {
		wg.Add(1)
		go func(i int, a lifecycle.Actor) {
			defer wg.Done()
			<-start
			v := version
			_, errs[i] = f.orch.Execute(f.ctx, Command{
				EntityType:      lifecycle.EntityAgentApplication,
				EntityID:        snap.EntityID,
				Trigger:         agentapp.TriggerApprove,
				Actor:           a,
				ExpectedVersion: &v,
			})
		}(i, a)
	}
	close(start)
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case lifecycle.IsCode(err, lifecycle.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	final := f.get(f.admin, lifecycle.EntityAgentApplication, snap.EntityID)
	assert.Equal(t, agentapp.StatusActive, final.Status)
	approvals, err := f.store.Audit().Count(f.ctx, audit.Filter{EntityID: &snap.EntityID, Action: ptr("approve")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), approvals)
}

func TestStaleVersionFromBody(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	_, err := f.exec(f.seller, lifecycle.EntityProperty, pid, property.TriggerDeactivate, map[string]interface{}{"version": 1})
	requireCode(t, err, lifecycle.CodeConflict)
}

func TestUnknownPayloadField(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	_, err := f.exec(f.seller, lifecycle.EntityProperty, pid, property.TriggerDeactivate, map[string]interface{}{"force": true})
	requireCode(t, err, lifecycle.CodeValidation)
}

func TestVisitSessionWithOTP(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)
	f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)

	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerStartSession, map[string]interface{}{"latitude": 18.70, "longitude": 73.78})
	requireCode(t, err, lifecycle.CodeValidation)

	res := f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerStartSession, map[string]interface{}{"latitude": 18.5601, "longitude": 73.7801})
	require.Len(t, res.Outbox, 1)
	msg := res.Outbox[0]
	assert.Equal(t, f.buyer.UserID, msg.Recipient)
	assert.Equal(t, MessageVisitOTP, msg.Kind)
	code := msg.Attributes["code"]
	require.Len(t, code, 6)

	for _, e := range f.auditFor(vid) {
		assert.NotContains(t, string(e.Details), code)
	}

	_, err = f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": "000000x"})
	requireCode(t, err, lifecycle.CodeValidation)

	res = f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": code})
	assert.Equal(t, visit.StatusCheckedIn, res.Status)

	res = f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerComplete, nil)
	assert.Equal(t, visit.StatusCompleted, res.Status)
	assert.Empty(t, res.AllowedActions)
}

func TestWrongCodesRevokeOTP(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)
	f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	res := f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerStartSession, map[string]interface{}{"latitude": 18.56, "longitude": 73.78})
	code := res.Outbox[0].Attributes["code"]
	wrong := "999999"
	if code == wrong {
		wrong = "000000"
	}

	limit := DefaultPolicy().MaxOTPAttempts
	for i := 1; i < limit; i++ {
		_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": wrong})
		requireCode(t, err, lifecycle.CodeValidation)
		v := f.get(f.agent, lifecycle.EntityVisit, vid).Data.(*visit.Visit)
		assert.Equal(t, i, v.OTPAttempts)
		assert.True(t, v.OTPPending())
	}

	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": wrong})
	requireCode(t, err, lifecycle.CodeValidation)
	v := f.get(f.agent, lifecycle.EntityVisit, vid).Data.(*visit.Visit)
	assert.False(t, v.OTPPending(), "the code is revoked at the limit")
	assert.Equal(t, visit.StatusApproved, v.Status)

	_, err = f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": code})
	requireCode(t, err, lifecycle.CodeValidation)

	misses := 0
	for _, e := range f.auditFor(vid) {
		if e.Action == string(visit.TriggerRejectOTP) {
			misses++
			assert.Equal(t, "SYSTEM", e.ActorRole)
		}
	}
	assert.Equal(t, limit, misses)

	res = f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerStartSession, map[string]interface{}{"latitude": 18.56, "longitude": 73.78})
	fresh := res.Outbox[0].Attributes["code"]
	res = f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": fresh})
	assert.Equal(t, visit.StatusCheckedIn, res.Status)
}

func TestExpiredOTPCannotCheckIn(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	vid := f.requestVisit(f.buyer, pid)
	f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	res := f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerStartSession, map[string]interface{}{"latitude": 18.56, "longitude": 73.78})
	code := res.Outbox[0].Attributes["code"]

	f.now = f.now.Add(11 * time.Minute)
	_, err := f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": code})
	requireCode(t, err, lifecycle.CodeValidation)

	f.mustExec(lifecycle.SystemActor(), lifecycle.EntityVisit, vid, visit.TriggerExpireOTP, nil)
	_, err = f.exec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerCheckIn, map[string]interface{}{"otp": code})
	requireCode(t, err, lifecycle.CodeValidation)

	_, err = f.exec(lifecycle.SystemActor(), lifecycle.EntityVisit, vid, visit.TriggerExpireOTP, nil)
	requireCode(t, err, lifecycle.CodeInvalidTransition)
}

func TestReservationConversionIsTerminal(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	oid := f.submitOffer(f.buyer, pid, 240000)
	f.mustExec(f.seller, lifecycle.EntityOffer, oid, offer.TriggerAccept, nil)

	rows, err := f.store.Audit().Query(f.ctx, audit.Filter{EntityType: ptr(lifecycle.EntityReservation)}, 1, 0)
	require.NoError(t, err)
	rid := rows[0].EntityID

	res := f.mustExec(f.agent, lifecycle.EntityReservation, rid, reservation.TriggerConvert, nil)
	assert.Equal(t, reservation.StatusConverted, res.Status)
	assert.Equal(t, property.StatusSold, f.get(f.seller, lifecycle.EntityProperty, pid).Status)
	assert.Equal(t, offer.StatusCompleted, f.get(f.buyer, lifecycle.EntityOffer, oid).Status)

	_, err = f.exec(lifecycle.SystemActor(), lifecycle.EntityReservation, rid, reservation.TriggerExpire, nil)
	requireCode(t, err, lifecycle.CodeInvalidTransition)

	reg := f.orch.Registry()
	for _, c := range []struct {
		entity lifecycle.EntityType
		state  lifecycle.State
	}{
		{lifecycle.EntityProperty, property.StatusSold},
		{lifecycle.EntityOffer, offer.StatusCompleted},
		{lifecycle.EntityOffer, offer.StatusRejected},
		{lifecycle.EntityOffer, offer.StatusWithdrawn},
		{lifecycle.EntityReservation, reservation.StatusConverted},
		{lifecycle.EntityReservation, reservation.StatusExpired},
		{lifecycle.EntityVisit, visit.StatusCompleted},
		{lifecycle.EntityVisit, visit.StatusNoShow},
		{lifecycle.EntityVisit, visit.StatusRejected},
		{lifecycle.EntityVisit, visit.StatusCancelled},
	} {
		assert.True(t, reg.IsTerminal(c.entity, c.state), "%s %s", c.entity, c.state)
	}
}

func TestVisibilityFollowsVisitApproval(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()

	public := f.get(lifecycle.Actor{}, lifecycle.EntityProperty, pid)
	assert.False(t, public.Visibility.Has(access.FlagExactAddress))
	assert.IsType(t, property.Area{}, public.Data.(propertyView).Address)
	assert.Empty(t, public.Contacts)

	vid := f.requestVisit(f.buyer, pid)
	pending := f.get(f.buyer, lifecycle.EntityProperty, pid)
	assert.False(t, pending.Visibility.Has(access.FlagSellerContact))

	f.mustExec(f.agent, lifecycle.EntityVisit, vid, visit.TriggerApprove, nil)
	approved := f.get(f.buyer, lifecycle.EntityProperty, pid)
	assert.True(t, approved.Visibility.Has(access.FlagExactAddress))
	assert.IsType(t, property.Address{}, approved.Data.(propertyView).Address)
	assert.Contains(t, approved.Contacts, "seller")
	assert.Contains(t, approved.Contacts, "agent")

	other := f.get(f.buyer2, lifecycle.EntityProperty, pid)
	assert.False(t, other.Visibility.Has(access.FlagExactAddress))
}

func TestDraftListingIsHidden(t *testing.T) {
	f := newFixture(t)
	snap, err := f.orch.CreateProperty(f.ctx, f.seller, completeDraft())
	require.NoError(t, err)

	_, err = f.orch.Get(f.ctx, lifecycle.Actor{}, lifecycle.EntityProperty, snap.EntityID)
	requireCode(t, err, lifecycle.CodeNotFound)

	adminView := f.get(f.admin, lifecycle.EntityProperty, snap.EntityID)
	assert.False(t, adminView.Visibility.Has(access.FlagExactAddress))
	assert.False(t, adminView.Visibility.Has(access.FlagSellerContact))

	ownerView := f.get(f.seller, lifecycle.EntityProperty, snap.EntityID)
	assert.True(t, ownerView.Visibility.Has(access.FlagExactAddress))
}

func TestApplicationDeclineAndReapply(t *testing.T) {
	f := newFixture(t)
	applicant := f.user("applicant", user.RoleSeller)
	snap, err := f.orch.SubmitApplication(f.ctx, applicant, ApplicationRequest{LicenseNumber: "RERA-1"})
	require.NoError(t, err)
	id := snap.EntityID

	_, err = f.orch.SubmitApplication(f.ctx, applicant, ApplicationRequest{LicenseNumber: "RERA-2"})
	requireCode(t, err, lifecycle.CodeConflict)

	f.mustExec(f.admin, lifecycle.EntityAgentApplication, id, agentapp.TriggerVerifyDocuments, nil)
	_, err = f.exec(f.admin, lifecycle.EntityAgentApplication, id, agentapp.TriggerDecline, nil)
	requireCode(t, err, lifecycle.CodeValidation)

	f.mustExec(f.admin, lifecycle.EntityAgentApplication, id, agentapp.TriggerDecline, map[string]interface{}{"reason": "license expired"})
	f.mustExec(applicant, lifecycle.EntityAgentApplication, id, agentapp.TriggerReapply, map[string]interface{}{"license_number": "RERA-1B"})
	res := f.mustExec(f.admin, lifecycle.EntityAgentApplication, id, agentapp.TriggerDecline, map[string]interface{}{"reason": "fraud", "final": true})

	app := res.Data.(*agentapp.Application)
	assert.True(t, app.DeclinedFinal)
	assert.Len(t, app.Decisions, 4)
	assert.Equal(t, "RERA-1B", app.LicenseNumber)

	_, err = f.exec(applicant, lifecycle.EntityAgentApplication, id, agentapp.TriggerReapply, nil)
	le := requireCode(t, err, lifecycle.CodeInvalidTransition)
	assert.Equal(t, agentapp.StatusDeclined, le.CurrentState)
	assert.NotNil(t, le.ValidTriggers)
	assert.Empty(t, le.ValidTriggers, "a final decline leaves nothing to fire")

	_, err = f.exec(f.admin, lifecycle.EntityAgentApplication, id, agentapp.TriggerApprove, nil)
	le = requireCode(t, err, lifecycle.CodeInvalidTransition)
	assert.Empty(t, le.ValidTriggers)

	final := f.get(applicant, lifecycle.EntityAgentApplication, id)
	assert.Empty(t, final.AllowedActions)
	assert.True(t, f.orch.registry.IsTerminalFor(lifecycle.EntityAgentApplication, agentapp.StatusDeclined, app.Facts()))
}

func TestAssignAgentRequiresActiveAgent(t *testing.T) {
	f := newFixture(t)
	snap, err := f.orch.CreateProperty(f.ctx, f.seller, completeDraft())
	require.NoError(t, err)
	f.mustExec(f.seller, lifecycle.EntityProperty, snap.EntityID, property.TriggerSubmit, nil)

	_, err = f.exec(f.admin, lifecycle.EntityProperty, snap.EntityID, property.TriggerAssignAgent, map[string]interface{}{"agent_id": f.buyer.UserID})
	requireCode(t, err, lifecycle.CodeValidation)

	_, err = f.exec(f.seller, lifecycle.EntityProperty, snap.EntityID, property.TriggerAssignAgent, map[string]interface{}{"agent_id": f.agent.UserID})
	requireCode(t, err, lifecycle.CodeUnauthorized)
}

func TestAuditRowsAreSigned(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	for _, e := range f.auditFor(pid) {
		ok, err := audit.Verify(e, signingKey)
		require.NoError(t, err)
		assert.True(t, ok, e.Action)
	}
}

func TestDuplicateOpenVisit(t *testing.T) {
	f := newFixture(t)
	pid := f.activeListing()
	f.requestVisit(f.buyer, pid)
	_, err := f.orch.RequestVisit(f.ctx, f.buyer, pid, VisitRequest{ScheduledDate: f.now.Add(48 * time.Hour)})
	requireCode(t, err, lifecycle.CodeConflict)

	_, err = f.orch.RequestVisit(f.ctx, f.buyer2, pid, VisitRequest{ScheduledDate: f.now.Add(-time.Hour)})
	requireCode(t, err, lifecycle.CodeValidation)
}

func ptr[T any](v T) *T {
	return &v
}
