package workflow

// State is a named lifecycle state of an entity. Each entity kind declares
// its own constants; validity is decided by the Machine the state belongs to.
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsZero reports whether the state is empty
func (s State) IsZero() bool {
	return s == ""
}

// Event is a named trigger that can move an entity from one state to another.
type Event string

// String returns the string representation of the event
func (e Event) String() string {
	return string(e)
}
