package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	ev := Event{ScanID: uuid.New(), OwnerID: uuid.New(), Status: "completed", At: time.Now()}
	require.NoError(t, hub.Publish(ctx, ev))

	select {
	case got := <-ch:
		assert.Equal(t, ev.ScanID, got.ScanID)
		assert.Equal(t, "completed", got.Status)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publishing after unsubscribe must not panic.
	assert.NoError(t, hub.Publish(context.Background(), Event{Status: "failed"}))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, stop, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = hub.Publish(ctx, Event{Status: "running"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestNop_Publish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
