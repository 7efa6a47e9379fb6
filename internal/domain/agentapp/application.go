package agentapp

import (
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Status represents agent application status.
type Status = lifecycle.State

const (
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusInReview            Status = "IN_REVIEW"
	StatusActive              Status = "ACTIVE"
	StatusDeclined            Status = "DECLINED"
	StatusSuspended           Status = "SUSPENDED"
)

// Decision is one entry of the application's retained review history.
type Decision struct {
	Trigger   lifecycle.Trigger `json:"trigger"`
	From      Status            `json:"from"`
	To        Status            `json:"to"`
	DecidedBy *uuid.UUID        `json:"decidedBy,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	DecidedAt time.Time         `json:"decidedAt"`
}

// Application is a user's request to act as an agent. Applications are never
// deleted; a declined applicant reapplies on the same record.
type Application struct {
	ID              int64      `json:"-"`
	ApplicationID   uuid.UUID  `json:"applicationId"`
	UserID          uuid.UUID  `json:"userId"`
	LicenseNumber   string     `json:"licenseNumber"`
	Agency          string     `json:"agency"`
	YearsExperience int        `json:"yearsExperience"`
	ServiceAreas    []string   `json:"serviceAreas"`
	Status          Status     `json:"status"`
	ReapplyCount    int        `json:"reapplyCount"`
	DeclinedFinal   bool       `json:"declinedFinal"`
	Decisions       []Decision `json:"decisions"`
	Version         int        `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (a *Application) Kind() lifecycle.EntityType { return lifecycle.EntityAgentApplication }
func (a *Application) Key() uuid.UUID             { return a.ApplicationID }
func (a *Application) State() lifecycle.State     { return a.Status }
func (a *Application) SetState(s lifecycle.State) { a.Status = s }
func (a *Application) Revision() int              { return a.Version }

func (a *Application) Facts() lifecycle.Facts {
	return lifecycle.Facts{
		"status":         string(a.Status),
		"reapply_count":  float64(a.ReapplyCount),
		"declined_final": a.DeclinedFinal,
	}
}

// Record appends a decision to the history.
func (a *Application) Record(d Decision) {
	a.Decisions = append(a.Decisions, d)
}

const (
	TriggerVerifyDocuments lifecycle.Trigger = "verify_documents"
	TriggerApprove         lifecycle.Trigger = "approve"
	TriggerDecline         lifecycle.Trigger = "decline"
	TriggerReapply         lifecycle.Trigger = "reapply"
	TriggerSuspend         lifecycle.Trigger = "suspend"
	TriggerReinstate       lifecycle.Trigger = "reinstate"
)

const (
	EffectRecordDecision lifecycle.Effect = "agentapp.record_decision"
	EffectRequireReason  lifecycle.Effect = "agentapp.require_reason"
	EffectDecline        lifecycle.Effect = "agentapp.decline"
	EffectReapply        lifecycle.Effect = "agentapp.reapply"
	EffectGrantAgentRole lifecycle.Effect = "agentapp.grant_agent_role"
)

var admin = []lifecycle.Relation{lifecycle.RelationAdmin}

// Table is the agent onboarding state machine. DECLINED becomes terminal once
// the decline is final.
func Table() lifecycle.Table {
	return lifecycle.Table{
		Entity: lifecycle.EntityAgentApplication,
		States: []lifecycle.State{
			StatusPendingVerification, StatusInReview, StatusActive, StatusDeclined, StatusSuspended,
		},
		Transitions: []lifecycle.Transition{
			{From: StatusPendingVerification, Trigger: TriggerVerifyDocuments, To: StatusInReview, Relations: admin, Effects: []lifecycle.Effect{EffectRecordDecision}},
			{From: StatusInReview, Trigger: TriggerApprove, To: StatusActive, Relations: admin, Effects: []lifecycle.Effect{EffectRecordDecision, EffectGrantAgentRole}},
			{From: StatusInReview, Trigger: TriggerDecline, To: StatusDeclined, Relations: admin, Effects: []lifecycle.Effect{EffectRequireReason, EffectDecline, EffectRecordDecision}},
			{
				From: StatusDeclined, Trigger: TriggerReapply, To: StatusInReview,
				Relations:        []lifecycle.Relation{lifecycle.RelationApplicant},
				Condition:        "!declined_final",
				ConditionCode:    lifecycle.CodeInvalidTransition,
				ConditionMessage: "application was declined permanently",
				Effects:          []lifecycle.Effect{EffectReapply, EffectRecordDecision},
			},
			{From: StatusActive, Trigger: TriggerSuspend, To: StatusSuspended, Relations: admin, Effects: []lifecycle.Effect{EffectRequireReason, EffectRecordDecision}},
			{From: StatusSuspended, Trigger: TriggerReinstate, To: StatusActive, Relations: admin, Effects: []lifecycle.Effect{EffectRecordDecision, EffectGrantAgentRole}},
		},
	}
}
