package workflow

import (
	"errors"
	"fmt"
)

// GuardFunc evaluates whether a transition should be allowed for the given context.
// Guards must be pure: no I/O and no dependence on mutable shared state.
type GuardFunc func(tc TransitionContext) bool

// Builder collects states, events and transitions and produces an immutable Machine.
type Builder struct {
	name    string
	initial State
	states  []State
	events  []Event
	configs map[State]*StateConfiguration
	order   []State
	errs    []error
}

// StateConfiguration configures the outgoing transitions of one state
type StateConfiguration struct {
	builder     *Builder
	fromState   State
	transitions []Transition
}

// NewBuilder creates a new state machine builder for the named entity kind
func NewBuilder(name string) *Builder {
	return &Builder{
		name:    name,
		configs: make(map[State]*StateConfiguration),
	}
}

// States declares the set of valid states. When omitted, states are inferred from transitions.
func (b *Builder) States(states ...State) *Builder {
	b.states = append(b.states, states...)
	return b
}

// Events declares the set of valid events. When omitted, events are inferred from transitions.
func (b *Builder) Events(events ...Event) *Builder {
	b.events = append(b.events, events...)
	return b
}

// Initial sets the state new entities start in
func (b *Builder) Initial(state State) *Builder {
	b.initial = state
	return b
}

// Configure returns the configuration for the given state
func (b *Builder) Configure(state State) *StateConfiguration {
	if state.IsZero() {
		b.errs = append(b.errs, fmt.Errorf("%w: empty state in Configure", ErrInvalidDefinition))
	}

	config, exists := b.configs[state]
	if !exists {
		config = &StateConfiguration{
			builder:   b,
			fromState: state,
		}
		b.configs[state] = config
		b.order = append(b.order, state)
	}

	return config
}

// Permit allows any actor to fire event and move to toState
func (c *StateConfiguration) Permit(event Event, toState State) *StateConfiguration {
	return c.PermitIf(event, toState, nil)
}

// PermitFor allows only the listed actor roles to fire event and move to toState
func (c *StateConfiguration) PermitFor(event Event, toState State, actors ...string) *StateConfiguration {
	return c.PermitIf(event, toState, nil, actors...)
}

// PermitIf allows event to move to toState when guard passes. A nil guard always passes.
func (c *StateConfiguration) PermitIf(event Event, toState State, guard GuardFunc, actors ...string) *StateConfiguration {
	if toState.IsZero() || event == "" {
		c.builder.errs = append(c.builder.errs,
			fmt.Errorf("%w: transition from %s needs an event and a target state", ErrInvalidDefinition, c.fromState))
		return c
	}

	c.transitions = append(c.transitions, Transition{
		From:          c.fromState,
		Event:         event,
		To:            toState,
		AllowedActors: append([]string(nil), actors...),
		Guard:         guard,
	})

	return c
}

// Configure continues the chain with another state
func (c *StateConfiguration) Configure(state State) *StateConfiguration {
	return c.builder.Configure(state)
}

// Build validates the collected definition and returns an immutable Machine
func (b *Builder) Build() (*Machine, error) {
	if b.name == "" {
		return nil, fmt.Errorf("%w: machine name is required", ErrInvalidDefinition)
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("machine %s: %w", b.name, errors.Join(b.errs...))
	}

	m := &Machine{
		name:    b.name,
		initial: b.initial,
		states:  make(map[State]struct{}),
		events:  make(map[Event]struct{}),
		table:   make(map[transitionKey]Transition),
	}

	declaredStates := len(b.states) > 0
	declaredEvents := len(b.events) > 0
	for _, s := range b.states {
		m.addState(s)
	}
	for _, e := range b.events {
		m.addEvent(e)
	}

	var errs []error
	for _, from := range b.order {
		for _, t := range b.configs[from].transitions {
			if declaredStates {
				if !m.HasState(t.From) {
					errs = append(errs, fmt.Errorf("undeclared state %q", t.From))
				}
				if !m.HasState(t.To) {
					errs = append(errs, fmt.Errorf("undeclared state %q", t.To))
				}
			} else {
				m.addState(t.From)
				m.addState(t.To)
			}

			if declaredEvents {
				if !m.HasEvent(t.Event) {
					errs = append(errs, fmt.Errorf("undeclared event %q", t.Event))
				}
			} else {
				m.addEvent(t.Event)
			}

			key := transitionKey{from: t.From, event: t.Event}
			if _, dup := m.table[key]; dup {
				errs = append(errs, fmt.Errorf("duplicate transition from %s on %s", t.From, t.Event))
				continue
			}
			t.AllowedActors = append([]string(nil), t.AllowedActors...)
			m.table[key] = t
		}
	}

	if !m.initial.IsZero() && !m.HasState(m.initial) {
		errs = append(errs, fmt.Errorf("initial state %q is not a declared state", m.initial))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: machine %s: %w", ErrInvalidDefinition, b.name, errors.Join(errs...))
	}

	return m, nil
}

// MustBuild is Build for static definitions; it panics on an invalid definition
func (b *Builder) MustBuild() *Machine {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// Build finishes the chain; see Builder.Build
func (c *StateConfiguration) Build() (*Machine, error) {
	return c.builder.Build()
}

// MustBuild finishes the chain; see Builder.MustBuild
func (c *StateConfiguration) MustBuild() *Machine {
	return c.builder.MustBuild()
}
