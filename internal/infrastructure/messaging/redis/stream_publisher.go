// Package redis publishes domain events to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/event"
)

// DefaultStream is the stream key used when none is configured
const DefaultStream = "statecore:events"

// StreamPublisher appends each event to a Redis stream with XADD
type StreamPublisher struct {
	client *goredis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// Option configures a StreamPublisher
type Option func(*StreamPublisher)

// WithStream sets the stream key
func WithStream(stream string) Option {
	return func(p *StreamPublisher) {
		if stream != "" {
			p.stream = stream
		}
	}
}

// WithMaxLen trims the stream to at most n entries on every add. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(p *StreamPublisher) {
		p.maxLen = n
	}
}

// WithLogger sets the publisher logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *StreamPublisher) {
		p.logger = logger
	}
}

// NewStreamPublisher creates a publisher over an existing client
func NewStreamPublisher(client *goredis.Client, opts ...Option) *StreamPublisher {
	p := &StreamPublisher{
		client: client,
		stream: DefaultStream,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream key
func (p *StreamPublisher) Stream() string {
	return p.stream
}

// Publish implements port.EventPublisher
func (p *StreamPublisher) Publish(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return errors.New("nil event")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	args := &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"id":       evt.ID,
			"type":     evt.Type.String(),
			"subject":  evt.Subject,
			"ordering": evt.OrderingKey(),
			"payload":  string(payload),
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("Failed to add event to stream",
			zap.String("stream", p.stream),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("Event added to stream",
		zap.String("stream", p.stream),
		zap.String("event_id", evt.ID),
		zap.String("entry_id", id))
	return nil
}

// Close closes the underlying client
func (p *StreamPublisher) Close() error {
	return p.client.Close()
}

// Ping checks connectivity, used for health reporting
func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

var _ port.EventPublisher = (*StreamPublisher)(nil)
