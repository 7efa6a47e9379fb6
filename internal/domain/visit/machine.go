package visit

import "github.com/nestfind/nestfind/internal/domain/lifecycle"

const (
	TriggerApprove       lifecycle.Trigger = "approve"
	TriggerReject        lifecycle.Trigger = "reject"
	TriggerCounter       lifecycle.Trigger = "counter"
	TriggerAcceptCounter lifecycle.Trigger = "accept_counter"
	TriggerCancel        lifecycle.Trigger = "cancel"
	TriggerStartSession  lifecycle.Trigger = "start_session"
	TriggerCheckIn       lifecycle.Trigger = "check_in"
	TriggerComplete      lifecycle.Trigger = "complete"
	TriggerNoShow        lifecycle.Trigger = "no_show"
	TriggerExpireOTP     lifecycle.Trigger = "expire_otp"
	TriggerRejectOTP     lifecycle.Trigger = "reject_otp"
	TriggerExpireCounter lifecycle.Trigger = "expire_counter"
)

const (
	EffectRecordCounter lifecycle.Effect = "visit.record_counter"
	EffectAcceptCounter lifecycle.Effect = "visit.accept_counter"
	EffectClearCounter  lifecycle.Effect = "visit.clear_counter"
	EffectIssueOTP      lifecycle.Effect = "visit.issue_otp"
	EffectConsumeOTP    lifecycle.Effect = "visit.consume_otp"
	EffectClearOTP      lifecycle.Effect = "visit.clear_otp"
	EffectCountOTPMiss  lifecycle.Effect = "visit.count_otp_miss"
	EffectRecordReason  lifecycle.Effect = "visit.record_reason"
	EffectFinish        lifecycle.Effect = "visit.finish"
)

var (
	listing    = []lifecycle.Relation{lifecycle.RelationAgent, lifecycle.RelationOwner}
	agent      = []lifecycle.Relation{lifecycle.RelationAgent}
	buyer      = []lifecycle.Relation{lifecycle.RelationBuyer}
	system     = []lifecycle.Relation{lifecycle.RelationSystem}
	negotiator = []lifecycle.Relation{lifecycle.RelationBuyer, lifecycle.RelationAgent, lifecycle.RelationOwner}
)

const counterBound = "counter_rounds < max_counter_rounds"

// Table is the visit negotiation and session state machine.
func Table() lifecycle.Table {
	return lifecycle.Table{
		Entity: lifecycle.EntityVisit,
		States: []lifecycle.State{
			StatusRequested, StatusApproved, StatusCountered, StatusRejected,
			StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow,
		},
		Transitions: []lifecycle.Transition{
			{From: StatusRequested, Trigger: TriggerApprove, To: StatusApproved, Relations: listing},
			{From: StatusRequested, Trigger: TriggerReject, To: StatusRejected, Relations: listing, Effects: []lifecycle.Effect{EffectRecordReason}},
			{
				From: StatusRequested, Trigger: TriggerCounter, To: StatusCountered, Relations: listing,
				Condition: counterBound, ConditionMessage: "counter proposal limit reached",
				Effects: []lifecycle.Effect{EffectRecordCounter},
			},
			{From: StatusRequested, Trigger: TriggerCancel, To: StatusCancelled, Relations: buyer, Effects: []lifecycle.Effect{EffectRecordReason}},

			{
				From: StatusCountered, Trigger: TriggerAcceptCounter, To: StatusApproved, Relations: negotiator,
				Guard: lifecycle.NotProposer, Effects: []lifecycle.Effect{EffectAcceptCounter},
			},
			{
				From: StatusCountered, Trigger: TriggerReject, To: StatusRejected, Relations: negotiator,
				Guard: lifecycle.NotProposer, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason},
			},
			{
				From: StatusCountered, Trigger: TriggerCounter, To: StatusCountered, Relations: negotiator,
				Condition: counterBound, ConditionMessage: "counter proposal limit reached",
				Guard: lifecycle.NotProposer, Effects: []lifecycle.Effect{EffectRecordCounter},
			},
			{From: StatusCountered, Trigger: TriggerCancel, To: StatusCancelled, Relations: buyer, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason}},
			{From: StatusCountered, Trigger: TriggerExpireCounter, To: StatusCancelled, Relations: system, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason}},

			{From: StatusApproved, Trigger: TriggerStartSession, To: StatusApproved, Relations: agent, Effects: []lifecycle.Effect{EffectIssueOTP}},
			{
				From: StatusApproved, Trigger: TriggerCheckIn, To: StatusCheckedIn, Relations: agent,
				Condition: "otp_pending && otp_attempts < max_otp_attempts", ConditionMessage: "no active one-time code; start the session first",
				Effects: []lifecycle.Effect{EffectConsumeOTP},
			},
			{
				From: StatusApproved, Trigger: TriggerExpireOTP, To: StatusApproved, Relations: system,
				Condition: "otp_pending", ConditionCode: lifecycle.CodeInvalidTransition, ConditionMessage: "no pending one-time code",
				Effects: []lifecycle.Effect{EffectClearOTP},
			},
			{
				From: StatusApproved, Trigger: TriggerRejectOTP, To: StatusApproved, Relations: system,
				Condition: "otp_pending", ConditionCode: lifecycle.CodeInvalidTransition, ConditionMessage: "no pending one-time code",
				Effects: []lifecycle.Effect{EffectCountOTPMiss},
			},
			{From: StatusApproved, Trigger: TriggerCancel, To: StatusCancelled, Relations: []lifecycle.Relation{lifecycle.RelationBuyer, lifecycle.RelationAgent}, Effects: []lifecycle.Effect{EffectClearOTP, EffectRecordReason}},

			{From: StatusCheckedIn, Trigger: TriggerComplete, To: StatusCompleted, Relations: agent, Effects: []lifecycle.Effect{EffectFinish}},
			{From: StatusCheckedIn, Trigger: TriggerNoShow, To: StatusNoShow, Relations: agent, Effects: []lifecycle.Effect{EffectFinish, EffectRecordReason}},
		},
	}
}
