package property

import "github.com/nestfind/nestfind/internal/domain/lifecycle"

const (
	TriggerEdit               lifecycle.Trigger = "edit"
	TriggerSubmit             lifecycle.Trigger = "submit"
	TriggerWithdraw           lifecycle.Trigger = "withdraw"
	TriggerAssignAgent        lifecycle.Trigger = "assign_agent"
	TriggerDeclineAssignment  lifecycle.Trigger = "decline_assignment"
	TriggerStartVerification  lifecycle.Trigger = "start_verification"
	TriggerVerify             lifecycle.Trigger = "verify"
	TriggerRejectVerification lifecycle.Trigger = "reject_verification"
	TriggerDeactivate         lifecycle.Trigger = "deactivate"
	TriggerReactivate         lifecycle.Trigger = "reactivate"
	TriggerReserve            lifecycle.Trigger = "reserve"
	TriggerRelease            lifecycle.Trigger = "release"
	TriggerMarkSold           lifecycle.Trigger = "mark_sold"
)

const (
	EffectApplyEdits    lifecycle.Effect = "property.apply_edits"
	EffectAssignAgent   lifecycle.Effect = "property.assign_agent"
	EffectUnassignAgent lifecycle.Effect = "property.unassign_agent"
)

var (
	owner  = []lifecycle.Relation{lifecycle.RelationOwner}
	agent  = []lifecycle.Relation{lifecycle.RelationAgent}
	admin  = []lifecycle.Relation{lifecycle.RelationAdmin}
	system = []lifecycle.Relation{lifecycle.RelationSystem}
)

// Table is the listing state machine. RESERVED and SOLD are only reachable
// through SYSTEM cascades from offers and reservations.
func Table() lifecycle.Table {
	return lifecycle.Table{
		Entity: lifecycle.EntityProperty,
		States: []lifecycle.State{
			StatusDraft, StatusPendingAssignment, StatusAssigned, StatusVerificationInProgress,
			StatusActive, StatusInactive, StatusReserved, StatusSold,
		},
		Transitions: []lifecycle.Transition{
			{From: StatusDraft, Trigger: TriggerEdit, To: StatusDraft, Relations: owner, Effects: []lifecycle.Effect{EffectApplyEdits}},
			{
				From: StatusDraft, Trigger: TriggerSubmit, To: StatusPendingAssignment, Relations: owner,
				Condition:        "completeness >= min_completeness",
				ConditionMessage: "listing is incomplete",
			},
			{From: StatusPendingAssignment, Trigger: TriggerWithdraw, To: StatusDraft, Relations: owner},
			{From: StatusPendingAssignment, Trigger: TriggerAssignAgent, To: StatusAssigned, Relations: admin, Effects: []lifecycle.Effect{EffectAssignAgent}},
			{From: StatusAssigned, Trigger: TriggerDeclineAssignment, To: StatusPendingAssignment, Relations: agent, Effects: []lifecycle.Effect{EffectUnassignAgent}},
			{From: StatusAssigned, Trigger: TriggerStartVerification, To: StatusVerificationInProgress, Relations: agent},
			{From: StatusVerificationInProgress, Trigger: TriggerVerify, To: StatusActive, Relations: agent},
			{From: StatusVerificationInProgress, Trigger: TriggerRejectVerification, To: StatusDraft, Relations: agent, Effects: []lifecycle.Effect{EffectUnassignAgent}},
			{From: StatusActive, Trigger: TriggerDeactivate, To: StatusInactive, Relations: []lifecycle.Relation{lifecycle.RelationOwner, lifecycle.RelationAgent, lifecycle.RelationAdmin}},
			{From: StatusInactive, Trigger: TriggerReactivate, To: StatusActive, Relations: []lifecycle.Relation{lifecycle.RelationOwner, lifecycle.RelationAgent}},
			{From: StatusInactive, Trigger: TriggerEdit, To: StatusInactive, Relations: owner, Effects: []lifecycle.Effect{EffectApplyEdits}},
			{From: StatusActive, Trigger: TriggerReserve, To: StatusReserved, Relations: system},
			{From: StatusReserved, Trigger: TriggerRelease, To: StatusActive, Relations: system},
			{From: StatusReserved, Trigger: TriggerMarkSold, To: StatusSold, Relations: system},
		},
	}
}
