package workflow

import "fmt"

// TransitionContext is the input to a transition decision
type TransitionContext struct {
	CurrentState State
	Event        Event
	Actor        string
	ActorID      string
	Metadata     map[string]any
}

// Decision is the result of CanTransition
type Decision struct {
	Allowed   bool
	NextState State
	Err       error
}

// CanTransition decides whether tc is a legal move on m and computes the next state.
// It performs no I/O and keeps no state, so identical inputs yield identical decisions.
func CanTransition(m *Machine, tc TransitionContext) Decision {
	if m == nil {
		return Decision{Err: fmt.Errorf("%w: nil machine", ErrInvalidDefinition)}
	}

	t, ok := m.Lookup(tc.CurrentState, tc.Event)
	if !ok {
		return Decision{
			Err: fmt.Errorf("%w from state %s on event %s", ErrNoSuchTransition, tc.CurrentState, tc.Event),
		}
	}

	if !t.PermitsActor(tc.Actor) {
		return Decision{Err: ErrActorNotPermitted}
	}

	if t.Guard != nil && !t.Guard(tc) {
		return Decision{
			Err: fmt.Errorf("%w: %s from state %s", ErrGuardFailed, tc.Event, tc.CurrentState),
		}
	}

	return Decision{Allowed: true, NextState: t.To}
}
