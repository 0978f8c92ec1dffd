package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/domain/event"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	delay  time.Duration
	fail   func(*event.Event) error
}

func (r *recordingPublisher) Publish(ctx context.Context, evt *event.Event) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail != nil {
		if err := r.fail(evt); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingPublisher) bySubject() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, e := range r.events {
		out[e.Subject] = append(out[e.Subject], e.Data.ToState)
	}
	return out
}

func stateEvent(entityID string, seq int) *event.Event {
	return event.NewStateChanged(event.TransitionData{
		EntityID:   entityID,
		EntityType: "task",
		ToState:    fmt.Sprintf("s%03d", seq),
	}, time.Now())
}

func TestOrderedPublisher_PreservesPerEntityOrder(t *testing.T) {
	target := &recordingPublisher{}
	pub := NewOrderedPublisher(target, WithShards(3), WithQueueSize(1000))
	require.NoError(t, pub.Start(context.Background()))

	entities := []string{"a", "b", "c", "d", "e"}
	const perEntity = 50
	for seq := 0; seq < perEntity; seq++ {
		for _, id := range entities {
			require.NoError(t, pub.Publish(context.Background(), stateEvent(id, seq)))
		}
	}
	require.NoError(t, pub.Stop())

	got := target.bySubject()
	require.Len(t, got, len(entities))
	for _, id := range entities {
		require.Len(t, got[id], perEntity, id)
		for seq, state := range got[id] {
			assert.Equal(t, fmt.Sprintf("s%03d", seq), state)
		}
	}
}

func TestOrderedPublisher_SameKeySameShard(t *testing.T) {
	pub := NewOrderedPublisher(&recordingPublisher{}, WithShards(8))
	key := stateEvent("entity-1", 0).OrderingKey()
	first := pub.shardFor(key)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, pub.shardFor(key))
	}
}

func TestOrderedPublisher_QueueFull(t *testing.T) {
	release := make(chan struct{})
	target := port.EventPublisherFunc(func(ctx context.Context, evt *event.Event) error {
		<-release
		return nil
	})
	pub := NewOrderedPublisher(target, WithShards(1), WithQueueSize(1))
	require.NoError(t, pub.Start(context.Background()))

	// The first event is taken by the shard goroutine, the second fills the queue
	require.NoError(t, pub.Publish(context.Background(), stateEvent("a", 0)))
	require.Eventually(t, func() bool { return pub.Pending() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Publish(context.Background(), stateEvent("a", 1)))

	err := pub.Publish(context.Background(), stateEvent("a", 2))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, pub.Stop())
}

func TestOrderedPublisher_Lifecycle(t *testing.T) {
	target := &recordingPublisher{}
	pub := NewOrderedPublisher(target)

	assert.ErrorIs(t, pub.Publish(context.Background(), stateEvent("a", 0)), ErrPublisherStopped)
	assert.NoError(t, pub.Stop())

	require.NoError(t, pub.Start(context.Background()))
	assert.Error(t, pub.Start(context.Background()))
	assert.Error(t, pub.Publish(context.Background(), nil))
	require.NoError(t, pub.Stop())
	require.NoError(t, pub.Stop())

	assert.ErrorIs(t, pub.Publish(context.Background(), stateEvent("a", 1)), ErrPublisherStopped)
}

func TestOrderedPublisher_StopDrainsAfterCancel(t *testing.T) {
	target := &recordingPublisher{delay: 2 * time.Millisecond}
	pub := NewOrderedPublisher(target, WithShards(2), WithQueueSize(100))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pub.Start(ctx))
	for i := 0; i < 20; i++ {
		require.NoError(t, pub.Publish(ctx, stateEvent("a", i)))
	}
	cancel()
	require.NoError(t, pub.Stop())

	assert.Len(t, target.bySubject()["a"], 20)
}

func TestOrderedPublisher_DeliveryFailuresDoNotStopShard(t *testing.T) {
	target := &recordingPublisher{
		fail: func(evt *event.Event) error {
			if evt.Data.ToState == "s001" {
				return errors.New("downstream unavailable")
			}
			if evt.Data.ToState == "s002" {
				panic("broken subscriber")
			}
			return nil
		},
	}
	pub := NewOrderedPublisher(target, WithShards(1))
	require.NoError(t, pub.Start(context.Background()))
	for i := 0; i < 4; i++ {
		require.NoError(t, pub.Publish(context.Background(), stateEvent("a", i)))
	}
	require.NoError(t, pub.Stop())

	assert.Equal(t, []string{"s000", "s003"}, target.bySubject()["a"])
}
