package workflow

import "errors"

var (
	// ErrNoSuchTransition is returned when the machine has no entry for (state, event)
	ErrNoSuchTransition = errors.New("no such transition")

	// ErrActorNotPermitted is returned when the acting role is not allowed on the transition
	ErrActorNotPermitted = errors.New("actor role not permitted for this transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrInvalidDefinition is returned when a machine definition is inconsistent
	ErrInvalidDefinition = errors.New("invalid state machine definition")
)
