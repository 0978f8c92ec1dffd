// Package messaging holds event publishers that deliver beyond the process.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/event"
)

// Fanout publishes every event to all of its publishers in order.
// Every publisher is attempted; failures are joined.
type Fanout struct {
	publishers []port.EventPublisher
}

// NewFanout creates a fanout over the non-nil publishers
func NewFanout(publishers ...port.EventPublisher) *Fanout {
	f := &Fanout{}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Len returns the number of publishers
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Publish implements port.EventPublisher
func (f *Fanout) Publish(ctx context.Context, evt *event.Event) error {
	var errs []error
	for i, p := range f.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

var _ port.EventPublisher = (*Fanout)(nil)
