package entity

import "time"

// AuditRecord is an immutable, append-only entry describing one committed transition.
type AuditRecord struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Event      string         `json:"event"`
	Actor      string         `json:"actor"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TransitionStat is the number of committed transitions of one shape
type TransitionStat struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Event     string `json:"event"`
	Count     int64  `json:"count"`
}
