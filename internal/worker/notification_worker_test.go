package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/notify"
	"github.com/spec-kit/ticket-engine/internal/service"
)

func TestStartNotificationWorkerDeliversQueuedEvents(t *testing.T) {
	dispatcher := events.NewQueuedDispatcher(events.QueuedOptions{BufferSize: 8, Workers: 1}, nil)
	sink := &notify.RecordingSink{}
	svc := service.NewNotificationService(dispatcher, map[string]notify.Sink{"test": sink}, nil, nil,
		config.NotificationConfig{ChannelPrefix: "tickets:", SinkTimeoutMilli: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartNotificationWorker(ctx, dispatcher, svc) }()

	require.Eventually(t, func() bool {
		_ = dispatcher.Publish(context.Background(), events.Event{
			Type:       events.EventTicketClaimed,
			TicketID:   4,
			Queue:      "REQ",
			Actor:      "bob",
			Recipients: []string{"alice"},
			Payload:    events.TicketAssignedPayload{},
		})
		return len(sink.Broadcasts()) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "tickets:req", sink.Broadcasts()[0].Channel)
	assert.Contains(t, sink.Recipients(), "alice")
}

func TestStartNotificationWorkerWithoutDispatcher(t *testing.T) {
	assert.NoError(t, StartNotificationWorker(context.Background(), nil, nil))
}
