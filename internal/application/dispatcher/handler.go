package dispatcher

import (
	"context"

	"github.com/garyjia/statecore/internal/domain/event"
)

// Handler reacts to a committed domain event
type Handler func(ctx context.Context, evt *event.Event) error

// Subscription describes one registered handler
type Subscription struct {
	ID        uint64
	Name      string
	EventType event.Type
}

type subscriber struct {
	Subscription
	handler Handler
}
