package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dagplan/pkg/domain"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	received := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, "topic", func(ctx context.Context, event domain.Event) error {
		received <- event
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "topic", domain.Event{ID: "e1", Type: domain.EventTypeRunSubmitted}))

	select {
	case event := <-received:
		assert.Equal(t, "e1", event.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	received := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, "a", func(ctx context.Context, event domain.Event) error {
		received <- event
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "b", domain.Event{ID: "e1"}))

	select {
	case <-received:
		t.Fatal("event delivered on wrong topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionRemovedOnContextCancel(t *testing.T) {
	bus := NewBus()

	subCtx, cancel := context.WithCancel(context.Background())
	received := make(chan domain.Event, 4)
	require.NoError(t, bus.Subscribe(subCtx, "topic", func(ctx context.Context, event domain.Event) error {
		received <- event
		return nil
	}))

	cancel()

	// Unsubscribe happens asynchronously; wait for the subscriber to drop.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bus.mu.RLock()
		n := len(bus.subscribers["topic"])
		bus.mu.RUnlock()
		if n == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, bus.Publish(context.Background(), "topic", domain.Event{ID: "late"}))

	select {
	case <-received:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	received := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, "topic", func(ctx context.Context, event domain.Event) error {
		received <- event
		return nil
	}))

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(ctx, "topic", domain.Event{ID: "e1"}))

	select {
	case <-received:
		t.Fatal("event delivered after close")
	case <-time.After(50 * time.Millisecond):
	}
}
