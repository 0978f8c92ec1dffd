// Package dispatcher delivers committed domain events to in-process subscribers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/event"
)

// ErrClosed is returned when publishing to a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher fans events out to subscribers. It is a port.EventPublisher, so
// the transition engine (or the ordered publisher) can publish straight into it.
type Dispatcher interface {
	port.EventPublisher

	// Subscribe registers handler for eventType; event.TypeAny receives every
	// event. The returned func removes the subscription.
	Subscribe(eventType event.Type, name string, handler Handler) (unsubscribe func())

	// Subscriptions lists the handlers that would receive an event of eventType
	Subscriptions(eventType event.Type) []Subscription

	// Close rejects further events and waits for deliveries already under way
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type eventDispatcher struct {
	mu     sync.RWMutex
	subs   map[event.Type][]subscriber
	nextID atomic.Uint64
	logger Logger

	lifeMu   sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		subs:   make(map[event.Type][]subscriber),
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) func() {
	id := d.nextID.Add(1)
	if name == "" {
		name = fmt.Sprintf("subscriber-%d", id)
	}
	sub := subscriber{
		Subscription: Subscription{ID: id, Name: name, EventType: eventType},
		handler:      handler,
	}

	d.mu.Lock()
	d.subs[eventType] = append(d.subs[eventType], sub)
	d.mu.Unlock()

	d.logger.Info("Subscriber registered", "event_type", eventType, "subscriber", name)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(eventType, id) })
	}
}

func (d *eventDispatcher) remove(eventType event.Type, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.subs[eventType] = slices.DeleteFunc(slices.Clone(d.subs[eventType]), func(s subscriber) bool {
		return s.ID == id
	})
	if len(d.subs[eventType]) == 0 {
		delete(d.subs, eventType)
	}
}

// Publish delivers evt to every matching subscriber in registration order,
// exact-type subscribers first. A failing subscriber does not stop delivery to
// the rest; all failures are joined into the returned error.
func (d *eventDispatcher) Publish(ctx context.Context, evt *event.Event) error {
	d.lifeMu.Lock()
	if d.closed {
		d.lifeMu.Unlock()
		return ErrClosed
	}
	d.inflight.Add(1)
	d.lifeMu.Unlock()
	defer d.inflight.Done()

	return d.deliver(ctx, evt)
}

func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event) error {
	var errs []error
	for _, sub := range d.matching(evt.Type) {
		if err := d.invoke(ctx, evt, sub); err != nil {
			d.logger.Error("Subscriber failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"subscriber", sub.Name,
				"error", err)
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.Name, err))
		}
	}
	return errors.Join(errs...)
}

// invoke runs one handler, turning a panic into an error
func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, sub subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, evt)
}

func (d *eventDispatcher) matching(eventType event.Type) []subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matched := slices.Clone(d.subs[eventType])
	if eventType != event.TypeAny {
		matched = append(matched, d.subs[event.TypeAny]...)
	}
	return matched
}

func (d *eventDispatcher) Subscriptions(eventType event.Type) []Subscription {
	matched := d.matching(eventType)
	out := make([]Subscription, len(matched))
	for i, s := range matched {
		out[i] = s.Subscription
	}
	return out
}

func (d *eventDispatcher) Close() error {
	d.lifeMu.Lock()
	if d.closed {
		d.lifeMu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.lifeMu.Unlock()

	d.inflight.Wait()
	d.logger.Info("Dispatcher closed")
	return nil
}

var _ port.EventPublisher = (*eventDispatcher)(nil)
