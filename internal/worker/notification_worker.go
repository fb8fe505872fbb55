package worker

import (
	"context"

	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/service"
)

// StartNotificationWorker registers notification handlers and delivers queued
// events until ctx is cancelled.
func StartNotificationWorker(ctx context.Context, dispatcher *events.QueuedDispatcher, notificationService *service.NotificationService) error {
	if dispatcher == nil {
		return nil
	}
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	return dispatcher.Run(ctx)
}
