package service

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/notify"
	"github.com/spec-kit/ticket-engine/internal/observability"
)

// NotificationService turns ticket events into mailbox messages and queue
// broadcasts. Sink failures are logged and counted, never returned to callers.
type NotificationService struct {
	dispatcher events.Dispatcher
	sinks      map[string]notify.Sink
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. sinks is keyed by a name used in logs and metrics.
func NewNotificationService(dispatcher events.Dispatcher, sinks map[string]notify.Sink, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

// ChannelFor returns the broadcast channel of a queue.
func (n *NotificationService) ChannelFor(queue string) string {
	return n.cfg.ChannelPrefix + domain.QueueKey(queue)
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	subject, body := renderEvent(event)
	channel := n.ChannelFor(event.Queue)
	message := subject + ": " + body

	names := make([]string, 0, len(n.sinks))
	for name := range n.sinks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sink := n.sinks[name]
		for _, recipient := range event.Recipients {
			n.call(ctx, name, event, func(ctx context.Context) error {
				return sink.Send(ctx, recipient, subject, body)
			})
		}
		n.call(ctx, name, event, func(ctx context.Context) error {
			return sink.Broadcast(ctx, channel, message)
		})
	}
	return nil
}

func (n *NotificationService) call(ctx context.Context, sinkName string, event events.Event, fn func(context.Context) error) {
	callCtx, cancel := context.WithTimeout(ctx, n.cfg.SinkTimeout())
	defer cancel()
	err := fn(callCtx)
	n.metrics.RecordNotification(sinkName, err == nil)
	if err != nil {
		n.logger.Warn("notification sink failed",
			zap.String("sink", sinkName),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err),
		)
	}
}

func renderEvent(event events.Event) (string, string) {
	subject := fmt.Sprintf("Ticket #%d: %s", event.TicketID, event.Title)
	switch p := event.Payload.(type) {
	case events.TicketCreatedPayload:
		if p.Assignee != nil {
			return subject, fmt.Sprintf("New ticket from %s in %s, assigned to %s.", p.Requester, event.Queue, *p.Assignee)
		}
		return subject, fmt.Sprintf("New ticket from %s in %s.", p.Requester, event.Queue)
	case events.TicketCommentAddedPayload:
		return subject, fmt.Sprintf("%s commented: %s", p.Author, p.BodyPreview)
	case events.TicketClosedPayload:
		body := fmt.Sprintf("Marked %s by %s.", p.NewStatus, event.Actor)
		if p.Reason != "" {
			body += " Reason: " + p.Reason
		}
		return subject, body
	case events.TicketReopenedPayload:
		return subject, fmt.Sprintf("Reopened by %s from ticket #%d.", event.Actor, p.OriginalID)
	case events.TicketAssignedPayload:
		switch event.Type {
		case events.EventTicketClaimed:
			return subject, fmt.Sprintf("Claimed by %s.", event.Actor)
		case events.EventTicketUnclaimed:
			return subject, fmt.Sprintf("Unclaimed by %s and returned to %s.", event.Actor, event.Queue)
		default:
			if p.Assignee != nil {
				return subject, fmt.Sprintf("Assigned to %s by %s.", *p.Assignee, event.Actor)
			}
		}
	}
	return subject, fmt.Sprintf("%s by %s.", event.Type, event.Actor)
}
