package lifecycle

// Effect names a side effect the orchestrator runs when a transition fires.
// Effects run in declaration order inside the mutation transaction.
type Effect string

// Guard is a predicate over entity facts and the acting relation. It must not
// depend on the request payload so that allowed actions can be computed from it.
type Guard func(facts Facts, rel Relation) error

// Transition is one row of a transition table.
type Transition struct {
	From      State
	Trigger   Trigger
	To        State
	Relations []Relation

	// Condition is a govaluate expression over entity facts and registry
	// parameters. Empty means always true.
	Condition        string
	ConditionCode    Code
	ConditionMessage string

	Guard   Guard
	Effects []Effect
}

// Permits reports whether rel may fire the transition.
func (t Transition) Permits(rel Relation) bool {
	for _, r := range t.Relations {
		if r == rel {
			return true
		}
	}
	return false
}

// Internal reports whether only the SYSTEM actor may fire the transition.
func (t Transition) Internal() bool {
	return len(t.Relations) == 1 && t.Relations[0] == RelationSystem
}

// Table is the declarative state machine of one entity type.
type Table struct {
	Entity      EntityType
	States      []State
	Transitions []Transition
}

// NotProposer rejects the party that made the outstanding counter proposal.
// Facts must carry "countered_by".
func NotProposer(facts Facts, rel Relation) error {
	by, _ := facts["countered_by"].(string)
	if by == "" {
		return nil
	}
	if PartyOf(rel) == by {
		return Unauthorized("waiting for the other party to respond to the counter proposal")
	}
	return nil
}
