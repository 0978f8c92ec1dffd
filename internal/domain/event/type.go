package event

import "strings"

// Type identifies the type of domain event, e.g. "content_item.state_changed"
type Type string

const (
	// TypeAny subscribes a handler to every event type
	TypeAny Type = "*"

	stateChangedSuffix = ".state_changed"
)

// StateChanged returns the event type emitted for committed transitions of entityType
func StateChanged(entityType string) Type {
	return Type(entityType + stateChangedSuffix)
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsStateChange reports whether t is a state_changed event
func (t Type) IsStateChange() bool {
	return strings.HasSuffix(string(t), stateChangedSuffix) && len(t) > len(stateChangedSuffix)
}

// EntityType returns the entity type a state_changed event refers to, or ""
func (t Type) EntityType() string {
	if !t.IsStateChange() {
		return ""
	}
	return strings.TrimSuffix(string(t), stateChangedSuffix)
}
