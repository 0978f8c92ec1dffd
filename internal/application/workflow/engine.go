package workflow

import (
	"context"

	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
)

// TransitionEngine validates and commits entity state transitions
type TransitionEngine interface {
	// ExecuteTransition runs one transition end-to-end. Expected failures are
	// reported in the Outcome, never as a panic or separate error.
	ExecuteTransition(ctx context.Context, machine *domainwf.Machine, req TransitionRequest) Outcome
}

// TransitionRequest is the input to one transition attempt
type TransitionRequest struct {
	EntityID     string
	EntityType   string
	CurrentState domainwf.State
	Event        domainwf.Event
	Actor        string
	ActorID      string
	Metadata     map[string]any
}

// ErrorKind classifies a failed Outcome
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindTransaction ErrorKind = "transaction"
)

// Outcome is the discriminated result of ExecuteTransition
type Outcome struct {
	Success  bool
	NewState domainwf.State
	AuditID  string
	Kind     ErrorKind
	Err      error
}

// Message returns the failure message, or "" on success
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Retryable reports whether the caller may re-read state and try again
func (o Outcome) Retryable() bool {
	switch o.Kind {
	case KindNotFound, KindConflict, KindTransaction:
		return true
	default:
		return false
	}
}

func failure(kind ErrorKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err}
}
