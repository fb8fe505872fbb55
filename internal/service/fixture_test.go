package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/notify"
	"github.com/spec-kit/ticket-engine/internal/observability"
	"github.com/spec-kit/ticket-engine/internal/repository"
)

type stepClock struct {
	mu   sync.Mutex
	base time.Time
	n    int
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base.Add(time.Duration(c.n) * time.Second)
}

type fixture struct {
	svc     *TicketService
	store   *repository.MemoryStore
	sink    *notify.RecordingSink
	metrics *observability.Metrics
}

func staffPolicy(staff ...string) domain.Permission {
	return func(actor string, t *domain.Ticket, action domain.Action) bool {
		if slices.Contains(staff, actor) {
			return true
		}
		switch action {
		case domain.ActionCreate:
			return true
		case domain.ActionView, domain.ActionComment:
			return t != nil && t.HasParticipant(actor)
		}
		return false
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	metrics := observability.NewMetrics()
	sink := &notify.RecordingSink{}
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, map[string]notify.Sink{"test": sink}, nil, metrics,
		config.NotificationConfig{ChannelPrefix: "tickets:", SinkTimeoutMilli: 200}).RegisterHandlers()

	clock := &stepClock{base: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	can := staffPolicy("bob", "carol", "quartermaster")
	svc := NewTicketService(TicketDependencies{
		Store:      store,
		Queues:     NewQueueRegistry(store, can, nil).WithMetrics(metrics),
		Templates:  StaticTemplates{"req": {"weapon", "armor"}},
		Permission: can,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      clock.Now,
	})
	return &fixture{svc: svc, store: store, sink: sink, metrics: metrics}
}

func (f *fixture) create(t *testing.T, queue, title, requester string) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), TicketCreateInput{
		Queue:       queue,
		Title:       title,
		Description: "details",
		Requester:   requester,
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) reload(t *testing.T, id int64) *domain.Ticket {
	t.Helper()
	ticket, err := f.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func strPtr(s string) *string { return &s }
