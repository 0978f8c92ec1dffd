package workflow

import (
	"slices"
	"sort"
)

// Transition is one row of a machine's transition table.
// An empty AllowedActors list permits any actor.
type Transition struct {
	From          State
	Event         Event
	To            State
	AllowedActors []string
	Guard         GuardFunc
}

// PermitsActor reports whether actor may fire this transition
func (t Transition) PermitsActor(actor string) bool {
	return len(t.AllowedActors) == 0 || slices.Contains(t.AllowedActors, actor)
}

type transitionKey struct {
	from  State
	event Event
}

// Machine is an immutable state machine definition for one entity kind.
// It is safe for concurrent use; nothing mutates it after Build.
type Machine struct {
	name       string
	initial    State
	states     map[State]struct{}
	stateOrder []State
	events     map[Event]struct{}
	eventOrder []Event
	table      map[transitionKey]Transition
}

func (m *Machine) addState(s State) {
	if _, ok := m.states[s]; ok {
		return
	}
	m.states[s] = struct{}{}
	m.stateOrder = append(m.stateOrder, s)
}

func (m *Machine) addEvent(e Event) {
	if _, ok := m.events[e]; ok {
		return
	}
	m.events[e] = struct{}{}
	m.eventOrder = append(m.eventOrder, e)
}

// Name returns the entity kind the machine governs
func (m *Machine) Name() string {
	return m.name
}

// Initial returns the initial state, or "" when none was declared
func (m *Machine) Initial() State {
	return m.initial
}

// States returns the valid states in declaration order
func (m *Machine) States() []State {
	return slices.Clone(m.stateOrder)
}

// Events returns the valid events in declaration order
func (m *Machine) Events() []Event {
	return slices.Clone(m.eventOrder)
}

// HasState reports whether s is a valid state of the machine
func (m *Machine) HasState(s State) bool {
	_, ok := m.states[s]
	return ok
}

// HasEvent reports whether e is a valid event of the machine
func (m *Machine) HasEvent(e Event) bool {
	_, ok := m.events[e]
	return ok
}

// Lookup returns the table entry for (from, event)
func (m *Machine) Lookup(from State, event Event) (Transition, bool) {
	t, ok := m.table[transitionKey{from: from, event: event}]
	if !ok {
		return Transition{}, false
	}
	t.AllowedActors = slices.Clone(t.AllowedActors)
	return t, true
}

// PermittedEvents returns the events that have an entry from state, sorted by name
func (m *Machine) PermittedEvents(state State) []Event {
	var events []Event
	for key := range m.table {
		if key.from == state {
			events = append(events, key.event)
		}
	}
	slices.Sort(events)
	return events
}

// IsTerminal reports whether state has no outgoing transitions
func (m *Machine) IsTerminal(state State) bool {
	return m.HasState(state) && len(m.PermittedEvents(state)) == 0
}

// Transitions returns a copy of the transition table sorted by (from, event)
func (m *Machine) Transitions() []Transition {
	out := make([]Transition, 0, len(m.table))
	for _, t := range m.table {
		t.AllowedActors = slices.Clone(t.AllowedActors)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Event < out[j].Event
	})
	return out
}
