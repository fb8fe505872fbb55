package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDispatcherRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventTicketClosed, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClosed, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketClosed})
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestQueuedDispatcherDelivers(t *testing.T) {
	d := NewQueuedDispatcher(QueuedOptions{BufferSize: 4, Workers: 2}, nil)

	var mu sync.Mutex
	got := map[int64]bool{}
	done := make(chan struct{}, 3)
	d.Subscribe(EventTicketCommentAdded, func(_ context.Context, e Event) error {
		mu.Lock()
		got[e.TicketID] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCommentAdded, TicketID: id}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	cancel()
	require.NoError(t, <-runErr)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, got)
}

func TestQueuedDispatcherDropsWhenFull(t *testing.T) {
	d := NewQueuedDispatcher(QueuedOptions{BufferSize: 1, Workers: 1}, nil)

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: 1}))
	err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: 2})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), d.Dropped())
}

func TestQueuedDispatcherDrainsOnShutdown(t *testing.T) {
	d := NewQueuedDispatcher(QueuedOptions{BufferSize: 2, Workers: 1}, nil)
	var delivered []int64
	d.Subscribe(EventTicketClaimed, func(_ context.Context, e Event) error {
		delivered = append(delivered, e.TicketID)
		return nil
	})
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClaimed, TicketID: 5}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []int64{5}, delivered)
}

func TestQueuedDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewQueuedDispatcher(QueuedOptions{BufferSize: 2, Workers: 1}, nil)
	var reached bool
	d.Subscribe(EventTicketReopened, func(context.Context, Event) error { panic("bad handler") })
	d.Subscribe(EventTicketReopened, func(context.Context, Event) error {
		reached = true
		return nil
	})
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketReopened}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.True(t, reached)
}
