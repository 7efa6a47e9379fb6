package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/infrastructure/memory"
)

var signingKey = []byte("fixture-signing-key")

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	orch  *Orchestrator
	now   time.Time

	seller lifecycle.Actor
	buyer  lifecycle.Actor
	buyer2 lifecycle.Actor
	agent  lifecycle.Actor
	admin  lifecycle.Actor
	admin2 lifecycle.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: memory.NewStore(),
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	policy := DefaultPolicy()
	reg, err := BuildRegistry(policy)
	require.NoError(t, err)
	f.orch = New(f.store, reg, policy, zerolog.Nop(),
		WithClock(func() time.Time { return f.now }),
		WithSigningKey(signingKey),
	)

	f.seller = f.user("seller", user.RoleSeller)
	f.buyer = f.user("buyer", user.RoleBuyer)
	f.buyer2 = f.user("buyertwo", user.RoleBuyer)
	f.admin = f.user("admin", user.RoleAdmin)
	f.admin2 = f.user("admintwo", user.RoleAdmin)
	f.agent = f.onboardAgent("agent")
	return f
}

func (f *fixture) user(name string, role user.Role) lifecycle.Actor {
	f.t.Helper()
	u := &user.User{
		UserID:   uuid.New(),
		Username: name,
		FullName: name + " example",
		Email:    name + "@example.com",
		Phone:    "+91-555-0100",
		Role:     role,
		Status:   user.StatusActive,
	}
	require.NoError(f.t, f.store.Users().Create(f.ctx, u))
	return lifecycle.Actor{UserID: u.UserID, Role: role}
}

// onboardAgent runs a buyer through the agent application to ACTIVE.
func (f *fixture) onboardAgent(name string) lifecycle.Actor {
	f.t.Helper()
	a := f.user(name, user.RoleBuyer)
	snap, err := f.orch.SubmitApplication(f.ctx, a, ApplicationRequest{LicenseNumber: "RERA-" + name, Agency: "Acme Realty", YearsExperience: 4})
	require.NoError(f.t, err)
	f.mustExec(f.admin, lifecycle.EntityAgentApplication, snap.EntityID, agentapp.TriggerVerifyDocuments, nil)
	f.mustExec(f.admin, lifecycle.EntityAgentApplication, snap.EntityID, agentapp.TriggerApprove, nil)
	a.Role = user.RoleAgent
	return a
}

func (f *fixture) exec(actor lifecycle.Actor, kind lifecycle.EntityType, id uuid.UUID, trigger lifecycle.Trigger, payload map[string]interface{}) (*Result, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(f.t, err)
		raw = b
	}
	return f.orch.Execute(f.ctx, Command{EntityType: kind, EntityID: id, Trigger: trigger, Actor: actor, Payload: raw})
}

func (f *fixture) mustExec(actor lifecycle.Actor, kind lifecycle.EntityType, id uuid.UUID, trigger lifecycle.Trigger, payload map[string]interface{}) *Result {
	f.t.Helper()
	res, err := f.exec(actor, kind, id, trigger, payload)
	require.NoError(f.t, err, "%s %s", kind, trigger)
	return res
}

func completeDraft() property.Draft {
	title := "Two bedroom flat near the park"
	desc := "Sunny corner unit with covered parking."
	kind := "APARTMENT"
	price := int64(250000)
	return property.Draft{
		Title:        &title,
		Description:  &desc,
		PropertyType: &kind,
		Price:        &price,
		Address: &property.Address{
			Line1:     "12 Hill Road",
			Locality:  "Baner",
			City:      "Pune",
			Region:    "MH",
			Country:   "IN",
			Latitude:  18.5600,
			Longitude: 73.7800,
		},
		Media: []property.Media{{URL: "https://cdn.example.com/p/1.jpg"}},
	}
}

// activeListing creates a listing and drives it to ACTIVE.
func (f *fixture) activeListing() uuid.UUID {
	f.t.Helper()
	snap, err := f.orch.CreateProperty(f.ctx, f.seller, completeDraft())
	require.NoError(f.t, err)
	id := snap.EntityID
	f.mustExec(f.seller, lifecycle.EntityProperty, id, property.TriggerSubmit, nil)
	f.mustExec(f.admin, lifecycle.EntityProperty, id, property.TriggerAssignAgent, map[string]interface{}{"agent_id": f.agent.UserID})
	f.mustExec(f.agent, lifecycle.EntityProperty, id, property.TriggerStartVerification, nil)
	f.mustExec(f.agent, lifecycle.EntityProperty, id, property.TriggerVerify, nil)
	return id
}

func (f *fixture) requestVisit(buyer lifecycle.Actor, propertyID uuid.UUID) uuid.UUID {
	f.t.Helper()
	snap, err := f.orch.RequestVisit(f.ctx, buyer, propertyID, VisitRequest{ScheduledDate: f.now.Add(24 * time.Hour)})
	require.NoError(f.t, err)
	return snap.EntityID
}

func (f *fixture) submitOffer(buyer lifecycle.Actor, propertyID uuid.UUID, amount int64) uuid.UUID {
	f.t.Helper()
	snap, err := f.orch.SubmitOffer(f.ctx, buyer, propertyID, OfferRequest{Amount: amount})
	require.NoError(f.t, err)
	return snap.EntityID
}

func (f *fixture) get(actor lifecycle.Actor, kind lifecycle.EntityType, id uuid.UUID) *Snapshot {
	f.t.Helper()
	snap, err := f.orch.Get(f.ctx, actor, kind, id)
	require.NoError(f.t, err)
	return snap
}

func (f *fixture) auditFor(id uuid.UUID) []*audit.Entry {
	f.t.Helper()
	entries, err := f.store.Audit().Query(f.ctx, audit.Filter{EntityID: &id}, 0, 0)
	require.NoError(f.t, err)
	return entries
}

func (f *fixture) totalAudit() int64 {
	f.t.Helper()
	n, err := f.store.Audit().Count(f.ctx, audit.Filter{})
	require.NoError(f.t, err)
	return n
}

func requireCode(t *testing.T, err error, code lifecycle.Code) *lifecycle.Error {
	t.Helper()
	require.Error(t, err)
	var e *lifecycle.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, code, e.Code, e.Message)
	return e
}
