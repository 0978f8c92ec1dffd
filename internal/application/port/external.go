package port

import (
	"context"

	"github.com/garyjia/statecore/internal/domain/event"
)

// EventPublisher delivers committed domain events to downstream subscribers.
// Callers treat failures as best-effort: they are logged, never propagated.
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

// EventPublisherFunc adapts a function to EventPublisher
type EventPublisherFunc func(ctx context.Context, evt *event.Event) error

// Publish calls f(ctx, evt)
func (f EventPublisherFunc) Publish(ctx context.Context, evt *event.Event) error {
	return f(ctx, evt)
}
