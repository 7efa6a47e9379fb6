package access

import (
	"strings"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

type displayKey struct {
	entity lifecycle.EntityType
	state  lifecycle.State
	party  string
}

// Labels keyed by party; an empty party applies to everyone.
var displayLabels = map[displayKey]string{
	{lifecycle.EntityProperty, "PENDING_ASSIGNMENT", ""}:       "Awaiting agent",
	{lifecycle.EntityProperty, "VERIFICATION_IN_PROGRESS", ""}: "Being verified",
	{lifecycle.EntityProperty, "RESERVED", ""}:                 "Under offer",
	{lifecycle.EntityProperty, "ACTIVE", ""}:                   "Listed",
	{lifecycle.EntityVisit, "REQUESTED", lifecycle.PartyBuyer}: "Awaiting confirmation",
	{lifecycle.EntityVisit, "COUNTERED", ""}:                   "New time proposed",
	{lifecycle.EntityVisit, "CHECKED_IN", ""}:                  "Visit in progress",
	{lifecycle.EntityVisit, "NO_SHOW", ""}:                     "Missed",
	{lifecycle.EntityOffer, "COUNTERED", ""}:                   "Counter offer",
	{lifecycle.EntityAgentApplication, "PENDING_VERIFICATION", ""}: "Verifying documents",
	{lifecycle.EntityAgentApplication, "IN_REVIEW", ""}:            "Under review",
}

// DisplayStatus is the human-facing label of state for rel.
func DisplayStatus(entity lifecycle.EntityType, state lifecycle.State, rel lifecycle.Relation) string {
	if label, ok := displayLabels[displayKey{entity, state, lifecycle.PartyOf(rel)}]; ok {
		return label
	}
	if label, ok := displayLabels[displayKey{entity, state, ""}]; ok {
		return label
	}
	words := strings.Split(strings.ToLower(string(state)), "_")
	if len(words) > 0 && words[0] != "" {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}
