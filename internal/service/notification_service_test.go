package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/notify"
	"github.com/spec-kit/ticket-engine/internal/observability"
)

type slowSink struct {
	notify.NopSink
	deadlines []bool
}

func (s *slowSink) Send(ctx context.Context, _, _, _ string) error {
	_, ok := ctx.Deadline()
	s.deadlines = append(s.deadlines, ok)
	<-ctx.Done()
	return ctx.Err()
}

func TestSinkFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.sink.Err = errors.New("mail service down")
	ctx := context.Background()

	ticket := f.create(t, "REQ", "Need sword", "alice")
	_, err := f.svc.Claim(ctx, ticket.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, f.reload(t, ticket.ID).Status)

	snap := f.metrics.Snapshot()
	assert.Positive(t, snap.Notifications["test|failed"])
	assert.Zero(t, snap.Notifications["test|ok"])
}

func TestSinkCallsAreBounded(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sink := &slowSink{}
	metrics := observability.NewMetrics()
	NewNotificationService(dispatcher, map[string]notify.Sink{"slow": sink}, nil, metrics,
		config.NotificationConfig{ChannelPrefix: "tickets:", SinkTimeoutMilli: 20}).RegisterHandlers()

	start := time.Now()
	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
		Type:       events.EventTicketClaimed,
		TicketID:   1,
		Queue:      "REQ",
		Recipients: []string{"alice"},
		Payload:    events.TicketAssignedPayload{},
	}))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []bool{true}, sink.deadlines)
	assert.Equal(t, int64(1), metrics.Snapshot().Notifications["slow|failed"])
	assert.Equal(t, int64(1), metrics.Snapshot().Notifications["slow|ok"], "broadcast still delivered")
}

func TestBroadcastChannelPerQueue(t *testing.T) {
	f := newFixture(t)
	f.create(t, "REQ", "Need sword", "alice")
	f.create(t, "Renown", "Promote me", "alice")

	var channels []string
	for _, b := range f.sink.Broadcasts() {
		channels = append(channels, b.Channel)
	}
	assert.Equal(t, []string{"tickets:req", "tickets:renown"}, channels)
}

func TestRenderEvent(t *testing.T) {
	assignee := "bob"
	cases := []struct {
		event events.Event
		body  string
	}{
		{
			event: events.Event{Type: events.EventTicketCreated, Queue: "REQ", Payload: events.TicketCreatedPayload{Requester: "alice", Assignee: &assignee}},
			body:  "New ticket from alice in REQ, assigned to bob.",
		},
		{
			event: events.Event{Type: events.EventTicketClosed, Actor: "bob", Payload: events.TicketClosedPayload{NewStatus: domain.TicketStatusCompleted, Reason: "granted"}},
			body:  "Marked completed by bob. Reason: granted",
		},
		{
			event: events.Event{Type: events.EventTicketReopened, Actor: "carol", Payload: events.TicketReopenedPayload{OriginalID: 7}},
			body:  "Reopened by carol from ticket #7.",
		},
		{
			event: events.Event{Type: events.EventTicketAssigned, Actor: "carol", Payload: events.TicketAssignedPayload{Assignee: &assignee}},
			body:  "Assigned to bob by carol.",
		},
		{
			event: events.Event{Type: events.EventTicketUnclaimed, Actor: "bob", Queue: "REQ", Payload: events.TicketAssignedPayload{}},
			body:  "Unclaimed by bob and returned to REQ.",
		},
	}
	for _, tc := range cases {
		tc.event.TicketID = 3
		tc.event.Title = "Need sword"
		subject, body := renderEvent(tc.event)
		assert.Equal(t, "Ticket #3: Need sword", subject)
		assert.Equal(t, tc.body, body)
	}
}
