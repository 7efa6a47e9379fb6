package lifecycle

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"
)

type transitionKey struct {
	state   State
	trigger Trigger
}

type compiledTable struct {
	states      map[State]struct{}
	triggers    map[Trigger]struct{}
	transitions map[transitionKey]Transition
	conditions  map[transitionKey]*govaluate.EvaluableExpression
}

// Registry holds the transition tables of every entity type.
type Registry struct {
	tables map[EntityType]*compiledTable
	params Facts
}

// NewRegistry compiles tables. params are policy values visible to every
// condition expression (e.g. max_counter_rounds).
func NewRegistry(params Facts, tables ...Table) (*Registry, error) {
	r := &Registry{
		tables: make(map[EntityType]*compiledTable, len(tables)),
		params: params,
	}
	for _, t := range tables {
		if _, dup := r.tables[t.Entity]; dup {
			return nil, fmt.Errorf("duplicate table for %s", t.Entity)
		}
		ct := &compiledTable{
			states:      make(map[State]struct{}, len(t.States)),
			triggers:    make(map[Trigger]struct{}),
			transitions: make(map[transitionKey]Transition, len(t.Transitions)),
			conditions:  make(map[transitionKey]*govaluate.EvaluableExpression),
		}
		for _, s := range t.States {
			ct.states[s] = struct{}{}
		}
		for _, tr := range t.Transitions {
			if _, ok := ct.states[tr.From]; !ok {
				return nil, fmt.Errorf("%s: unknown source state %s", t.Entity, tr.From)
			}
			if _, ok := ct.states[tr.To]; !ok {
				return nil, fmt.Errorf("%s: unknown target state %s", t.Entity, tr.To)
			}
			if len(tr.Relations) == 0 {
				return nil, fmt.Errorf("%s: %s/%s permits no relation", t.Entity, tr.From, tr.Trigger)
			}
			key := transitionKey{state: tr.From, trigger: tr.Trigger}
			if _, dup := ct.transitions[key]; dup {
				return nil, fmt.Errorf("%s: duplicate transition %s/%s", t.Entity, tr.From, tr.Trigger)
			}
			expr, err := compileCondition(tr.Condition)
			if err != nil {
				return nil, fmt.Errorf("%s: %s/%s condition: %w", t.Entity, tr.From, tr.Trigger, err)
			}
			if tr.ConditionCode == "" {
				tr.ConditionCode = CodeValidation
			}
			ct.transitions[key] = tr
			ct.conditions[key] = expr
			ct.triggers[tr.Trigger] = struct{}{}
		}
		r.tables[t.Entity] = ct
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on a malformed table.
func MustRegistry(params Facts, tables ...Table) *Registry {
	r, err := NewRegistry(params, tables...)
	if err != nil {
		panic(err)
	}
	return r
}

// LegalTransition returns the transition for (entity, current, trigger) or an
// INVALID_TRANSITION error carrying the triggers valid from current.
func (r *Registry) LegalTransition(entity EntityType, current State, trigger Trigger) (Transition, error) {
	ct, ok := r.tables[entity]
	if !ok {
		return Transition{}, fmt.Errorf("no transition table for %s", entity)
	}
	tr, ok := ct.transitions[transitionKey{state: current, trigger: trigger}]
	if !ok {
		return Transition{}, InvalidTransition(entity, current, trigger, r.ValidTriggers(entity, current))
	}
	return tr, nil
}

// ValidTriggers lists the triggers with a table entry from state, sorted.
func (r *Registry) ValidTriggers(entity EntityType, state State) []Trigger {
	ct, ok := r.tables[entity]
	if !ok {
		return nil
	}
	out := []Trigger{}
	for key := range ct.transitions {
		if key.state == state {
			out = append(out, key.trigger)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transitions lists the table entries leaving state, sorted by trigger.
func (r *Registry) Transitions(entity EntityType, state State) []Transition {
	triggers := r.ValidTriggers(entity, state)
	out := make([]Transition, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, r.tables[entity].transitions[transitionKey{state: state, trigger: t}])
	}
	return out
}

// KnownTrigger reports whether trigger appears anywhere in entity's table.
func (r *Registry) KnownTrigger(entity EntityType, trigger Trigger) bool {
	ct, ok := r.tables[entity]
	if !ok {
		return false
	}
	_, ok = ct.triggers[trigger]
	return ok
}

// IsTerminal reports whether no transition leaves state.
func (r *Registry) IsTerminal(entity EntityType, state State) bool {
	return len(r.ValidTriggers(entity, state)) == 0
}

// OpenTriggers narrows ValidTriggers to what facts still allow. A trigger is
// closed when its condition carries CodeInvalidTransition and evaluates false;
// other conditions depend on the request and leave the trigger open.
func (r *Registry) OpenTriggers(entity EntityType, state State, facts Facts) []Trigger {
	ct, ok := r.tables[entity]
	if !ok {
		return nil
	}
	all := r.ValidTriggers(entity, state)
	out := make([]Trigger, 0, len(all))
	for _, t := range all {
		key := transitionKey{state: state, trigger: t}
		if ct.transitions[key].ConditionCode == CodeInvalidTransition {
			passed, err := evaluateCondition(ct.conditions[key], r.params.Merge(facts))
			if err == nil && !passed {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// IsTerminalFor is IsTerminal for an entity whose facts may close the
// remaining triggers, such as a permanently declined application.
func (r *Registry) IsTerminalFor(entity EntityType, state State, facts Facts) bool {
	return len(r.OpenTriggers(entity, state, facts)) == 0
}

// States lists the declared states of entity, sorted.
func (r *Registry) States(entity EntityType) []State {
	ct, ok := r.tables[entity]
	if !ok {
		return nil
	}
	out := make([]State, 0, len(ct.states))
	for s := range ct.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Param returns a policy parameter.
func (r *Registry) Param(name string) interface{} {
	return r.params[name]
}

// Check evaluates the transition's condition and guard for rel. It does not
// check whether rel is permitted; see Transition.Permits.
func (r *Registry) Check(entity EntityType, tr Transition, facts Facts, rel Relation) error {
	ct, ok := r.tables[entity]
	if !ok {
		return fmt.Errorf("no transition table for %s", entity)
	}
	expr := ct.conditions[transitionKey{state: tr.From, trigger: tr.Trigger}]
	if expr != nil {
		passed, err := evaluateCondition(expr, r.params.Merge(facts))
		if err != nil {
			return fmt.Errorf("evaluate %s/%s condition: %w", tr.From, tr.Trigger, err)
		}
		if !passed {
			msg := tr.ConditionMessage
			if msg == "" {
				msg = fmt.Sprintf("condition %q not met", tr.Condition)
			}
			e := &Error{Code: tr.ConditionCode, Message: msg}
			if tr.ConditionCode == CodeInvalidTransition {
				e.CurrentState = tr.From
				e.ValidTriggers = r.OpenTriggers(entity, tr.From, facts)
			}
			return e
		}
	}
	if tr.Guard != nil {
		return tr.Guard(facts, rel)
	}
	return nil
}
