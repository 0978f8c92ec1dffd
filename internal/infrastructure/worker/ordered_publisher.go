package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/event"
	"github.com/garyjia/statecore/internal/metrics"
)

var (
	// ErrQueueFull is returned when the shard for an event has no free slot
	ErrQueueFull = errors.New("event queue full")

	// ErrPublisherStopped is returned when publishing before Start or after Stop
	ErrPublisherStopped = errors.New("ordered publisher not running")
)

const (
	defaultShards          = 4
	defaultQueueSize       = 256
	defaultDeliveryTimeout = 5 * time.Second
)

// OrderedPublisher delivers events asynchronously to a target publisher.
// Events with the same ordering key land on the same shard and are delivered
// in the order they were published; different keys proceed in parallel.
type OrderedPublisher struct {
	target          port.EventPublisher
	shards          int
	queueSize       int
	deliveryTimeout time.Duration
	logger          *zap.Logger
	metrics         *metrics.Metrics

	mu      sync.RWMutex
	running bool
	queues  []chan *event.Event
	group   *errgroup.Group
}

// OrderedOption configures an OrderedPublisher
type OrderedOption func(*OrderedPublisher)

// WithShards sets the number of shard goroutines
func WithShards(n int) OrderedOption {
	return func(p *OrderedPublisher) {
		if n > 0 {
			p.shards = n
		}
	}
}

// WithQueueSize sets the per-shard queue capacity
func WithQueueSize(n int) OrderedOption {
	return func(p *OrderedPublisher) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithDeliveryTimeout bounds each delivery to the target
func WithDeliveryTimeout(d time.Duration) OrderedOption {
	return func(p *OrderedPublisher) {
		if d > 0 {
			p.deliveryTimeout = d
		}
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *zap.Logger) OrderedOption {
	return func(p *OrderedPublisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics counts failed deliveries
func WithPublisherMetrics(m *metrics.Metrics) OrderedOption {
	return func(p *OrderedPublisher) {
		p.metrics = m
	}
}

// NewOrderedPublisher creates a sharded publisher in front of target
func NewOrderedPublisher(target port.EventPublisher, opts ...OrderedOption) *OrderedPublisher {
	p := &OrderedPublisher{
		target:          target,
		shards:          defaultShards,
		queueSize:       defaultQueueSize,
		deliveryTimeout: defaultDeliveryTimeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Worker
func (p *OrderedPublisher) Name() string {
	return "ordered-event-publisher"
}

// Start implements Worker. Deliveries do not inherit cancellation from ctx,
// so events queued before Stop are still delivered.
func (p *OrderedPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("ordered publisher already running")
	}

	base := context.WithoutCancel(ctx)
	p.queues = make([]chan *event.Event, p.shards)
	p.group = &errgroup.Group{}
	for i := range p.queues {
		queue := make(chan *event.Event, p.queueSize)
		p.queues[i] = queue
		shard := i
		p.group.Go(func() error {
			p.runShard(base, shard, queue)
			return nil
		})
	}
	p.running = true

	p.logger.Info("Ordered publisher started",
		zap.Int("shards", p.shards),
		zap.Int("queue_size", p.queueSize))
	return nil
}

// Stop implements Worker. It stops accepting events and waits for the queues to drain.
func (p *OrderedPublisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	for _, q := range p.queues {
		close(q)
	}
	group := p.group
	p.mu.Unlock()

	err := group.Wait()
	p.logger.Info("Ordered publisher stopped")
	return err
}

// Publish implements port.EventPublisher. It never blocks: a full shard queue fails fast.
func (p *OrderedPublisher) Publish(_ context.Context, evt *event.Event) error {
	if evt == nil {
		return errors.New("nil event")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return ErrPublisherStopped
	}

	shard := p.shardFor(evt.OrderingKey())
	select {
	case p.queues[shard] <- evt:
		return nil
	default:
		return fmt.Errorf("%w: shard %d", ErrQueueFull, shard)
	}
}

// Pending returns the number of queued events across shards
func (p *OrderedPublisher) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

func (p *OrderedPublisher) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.shards))
}

func (p *OrderedPublisher) runShard(ctx context.Context, shard int, queue <-chan *event.Event) {
	for evt := range queue {
		if err := p.deliver(ctx, evt); err != nil {
			p.metrics.ObservePublishFailure(evt.Data.EntityType)
			p.logger.Warn("Failed to deliver event",
				zap.Int("shard", shard),
				zap.String("event_id", evt.ID),
				zap.String("event_type", evt.Type.String()),
				zap.String("subject", evt.Subject),
				zap.Error(err))
		}
	}
}

func (p *OrderedPublisher) deliver(ctx context.Context, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()

	deliverCtx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()
	return p.target.Publish(deliverCtx, evt)
}

var (
	_ Worker              = (*OrderedPublisher)(nil)
	_ port.EventPublisher = (*OrderedPublisher)(nil)
)
