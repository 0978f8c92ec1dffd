package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/statecore/internal/domain/event"
)

func setupPublisher(t *testing.T, opts ...Option) (*StreamPublisher, *goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStreamPublisher(client, opts...), client, mr
}

func testEvent(entityID, to string) *event.Event {
	return event.NewStateChanged(event.TransitionData{
		EntityID:   entityID,
		EntityType: "task",
		FromState:  "pending",
		ToState:    to,
		Event:      "start",
		Actor:      "worker",
		AuditID:    "audit-" + entityID,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestStreamPublisher_Publish(t *testing.T) {
	pub, client, _ := setupPublisher(t)
	ctx := context.Background()

	evt := testEvent("t-1", "in_progress")
	require.NoError(t, pub.Publish(ctx, evt))

	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, evt.ID, values["id"])
	assert.Equal(t, "task.state_changed", values["type"])
	assert.Equal(t, "t-1", values["subject"])
	assert.Equal(t, evt.OrderingKey(), values["ordering"])

	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(values["payload"].(string)), &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, "in_progress", decoded.Data.ToState)
	assert.Equal(t, "audit-t-1", decoded.Data.AuditID)
}

func TestStreamPublisher_PreservesOrderPerStream(t *testing.T) {
	pub, client, _ := setupPublisher(t, WithStream("custom:events"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, testEvent(fmt.Sprintf("t-%d", i), "in_progress")))
	}

	entries, err := client.XRange(ctx, "custom:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, entry := range entries {
		assert.Equal(t, fmt.Sprintf("t-%d", i), entry.Values["subject"])
	}
}

func TestStreamPublisher_MaxLenTrims(t *testing.T) {
	pub, client, _ := setupPublisher(t, WithMaxLen(3))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, pub.Publish(ctx, testEvent(fmt.Sprintf("t-%d", i), "in_progress")))
	}

	n, err := client.XLen(ctx, DefaultStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStreamPublisher_Errors(t *testing.T) {
	pub, _, mr := setupPublisher(t)
	ctx := context.Background()

	assert.Error(t, pub.Publish(ctx, nil))

	mr.Close()
	err := pub.Publish(ctx, testEvent("t-1", "in_progress"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish event to stream")
	assert.Error(t, pub.Ping(ctx))
}
