package entity

import "time"

// Entity types with built-in state machines
const (
	TypeContentItem    = "content_item"
	TypeTask           = "task"
	TypeQuestionTicket = "question_ticket"
)

// EntityState is the persisted lifecycle state of one entity row
type EntityState struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
