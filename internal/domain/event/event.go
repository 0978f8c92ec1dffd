package event

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSource is the source stamped on events emitted by the transition engine
const DefaultSource = "statecore.transition-engine"

// Event is a domain event describing a fact that already happened.
type Event struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	Source  string         `json:"source"`
	Subject string         `json:"subject"`
	Time    time.Time      `json:"time"`
	Data    TransitionData `json:"data"`
}

// TransitionData is the payload of a state_changed event
type TransitionData struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Event      string         `json:"event"`
	Actor      string         `json:"actor"`
	ActorID    string         `json:"actor_id,omitempty"`
	AuditID    string         `json:"audit_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewStateChanged creates a state_changed event for a committed transition.
// The subject is the entity id, which keys per-entity ordering downstream.
func NewStateChanged(data TransitionData, at time.Time) *Event {
	return &Event{
		ID:      uuid.NewString(),
		Type:    StateChanged(data.EntityType),
		Source:  DefaultSource,
		Subject: data.EntityID,
		Time:    at,
		Data:    data.clone(),
	}
}

// WithSource returns a copy of the event with a different source (immutable operation)
func (e *Event) WithSource(source string) *Event {
	cp := *e
	cp.Source = source
	cp.Data = e.Data.clone()
	return &cp
}

// OrderingKey returns the key that events must stay ordered within
func (e *Event) OrderingKey() string {
	return e.Data.EntityType + "/" + e.Subject
}

// GetMetadataString retrieves a string value from the transition metadata
func (e *Event) GetMetadataString(key string) string {
	if val, ok := e.Data.Metadata[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (d TransitionData) clone() TransitionData {
	if d.Metadata == nil {
		return d
	}
	md := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v
	}
	d.Metadata = md
	return d
}
