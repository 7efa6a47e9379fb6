package offer

import "github.com/nestfind/nestfind/internal/domain/lifecycle"

const (
	TriggerAccept        lifecycle.Trigger = "accept"
	TriggerReject        lifecycle.Trigger = "reject"
	TriggerCounter       lifecycle.Trigger = "counter"
	TriggerAcceptCounter lifecycle.Trigger = "accept_counter"
	TriggerWithdraw      lifecycle.Trigger = "withdraw"
	TriggerExpireCounter lifecycle.Trigger = "expire_counter"
	TriggerRejectSibling lifecycle.Trigger = "reject_sibling"
	TriggerComplete      lifecycle.Trigger = "complete"
)

const (
	EffectRecordCounter  lifecycle.Effect = "offer.record_counter"
	EffectClearCounter   lifecycle.Effect = "offer.clear_counter"
	EffectRecordReason   lifecycle.Effect = "offer.record_reason"
	EffectSettleAmount   lifecycle.Effect = "offer.settle_amount"
	EffectRejectSiblings lifecycle.Effect = "offer.reject_siblings"
	EffectReserve        lifecycle.Effect = "offer.reserve_property"
)

var (
	listing    = []lifecycle.Relation{lifecycle.RelationOwner, lifecycle.RelationAgent}
	buyer      = []lifecycle.Relation{lifecycle.RelationBuyer}
	system     = []lifecycle.Relation{lifecycle.RelationSystem}
	negotiator = []lifecycle.Relation{lifecycle.RelationBuyer, lifecycle.RelationOwner, lifecycle.RelationAgent}

	// Acceptance cascades: the accepted offer settles, siblings are rejected,
	// the property is reserved and a reservation is opened.
	acceptEffects = []lifecycle.Effect{EffectSettleAmount, EffectRejectSiblings, EffectReserve}
)

const (
	propertyAvailable = `property_status == "ACTIVE"`
	counterBound      = "counter_rounds < max_counter_rounds"
)

// Table is the offer negotiation state machine.
func Table() lifecycle.Table {
	return lifecycle.Table{
		Entity: lifecycle.EntityOffer,
		States: []lifecycle.State{
			StatusPending, StatusCountered, StatusAccepted, StatusRejected, StatusWithdrawn, StatusCompleted,
		},
		Transitions: []lifecycle.Transition{
			{
				From: StatusPending, Trigger: TriggerAccept, To: StatusAccepted, Relations: listing,
				Condition: propertyAvailable, ConditionCode: lifecycle.CodeInvalidTransition,
				ConditionMessage: "property is no longer available", Effects: acceptEffects,
			},
			{From: StatusPending, Trigger: TriggerReject, To: StatusRejected, Relations: listing, Effects: []lifecycle.Effect{EffectRecordReason}},
			{
				From: StatusPending, Trigger: TriggerCounter, To: StatusCountered, Relations: listing,
				Condition: counterBound, ConditionMessage: "counter proposal limit reached",
				Effects: []lifecycle.Effect{EffectRecordCounter},
			},
			{From: StatusPending, Trigger: TriggerWithdraw, To: StatusWithdrawn, Relations: buyer, Effects: []lifecycle.Effect{EffectRecordReason}},
			{From: StatusPending, Trigger: TriggerRejectSibling, To: StatusRejected, Relations: system, Effects: []lifecycle.Effect{EffectRecordReason}},

			{
				From: StatusCountered, Trigger: TriggerAcceptCounter, To: StatusAccepted, Relations: negotiator,
				Condition: propertyAvailable, ConditionCode: lifecycle.CodeInvalidTransition,
				ConditionMessage: "property is no longer available",
				Guard:            lifecycle.NotProposer, Effects: acceptEffects,
			},
			{
				From: StatusCountered, Trigger: TriggerCounter, To: StatusCountered, Relations: negotiator,
				Condition: counterBound, ConditionMessage: "counter proposal limit reached",
				Guard: lifecycle.NotProposer, Effects: []lifecycle.Effect{EffectRecordCounter},
			},
			{
				From: StatusCountered, Trigger: TriggerReject, To: StatusRejected, Relations: negotiator,
				Guard: lifecycle.NotProposer, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason},
			},
			{From: StatusCountered, Trigger: TriggerWithdraw, To: StatusWithdrawn, Relations: buyer, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason}},
			{From: StatusCountered, Trigger: TriggerExpireCounter, To: StatusRejected, Relations: system, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason}},
			{From: StatusCountered, Trigger: TriggerRejectSibling, To: StatusRejected, Relations: system, Effects: []lifecycle.Effect{EffectClearCounter, EffectRecordReason}},

			{From: StatusAccepted, Trigger: TriggerComplete, To: StatusCompleted, Relations: system},
		},
	}
}
