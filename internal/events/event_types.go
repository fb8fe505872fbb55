package events

import (
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketClaimed      EventType = "ticket_claimed"
	EventTicketUnclaimed    EventType = "ticket_unclaimed"
	EventTicketCommentAdded EventType = "ticket_comment_added"
	EventTicketClosed       EventType = "ticket_closed"
	EventTicketReopened     EventType = "ticket_reopened"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketAssigned,
	EventTicketClaimed,
	EventTicketUnclaimed,
	EventTicketCommentAdded,
	EventTicketClosed,
	EventTicketReopened,
}

// Event represents a domain event emitted by services. Recipients is resolved
// by the publisher from the ticket state at commit time.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TicketID   int64     `json:"ticket_id"`
	Queue      string    `json:"queue"`
	Title      string    `json:"title"`
	Actor      string    `json:"actor"`
	Recipients []string  `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Requester string  `json:"requester"`
	Assignee  *string `json:"assignee,omitempty"`
}

// TicketAssignedPayload payload, shared by assign, claim and unclaim.
type TicketAssignedPayload struct {
	Previous *string `json:"previous,omitempty"`
	Assignee *string `json:"assignee,omitempty"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID   int64  `json:"comment_id"`
	Author      string `json:"author"`
	BodyPreview string `json:"body_preview"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Reason    string              `json:"reason,omitempty"`
	ArchiveID int64               `json:"archive_id"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	ArchiveID  int64 `json:"archive_id"`
	OriginalID int64 `json:"original_id"`
}
