package domain

import "time"

// ArchivedTicket is the immutable snapshot written at a ticket's first terminal transition.
type ArchivedTicket struct {
	ID          int64
	OriginalID  int64
	Title       string
	Description string
	Requester   string
	Assignee    *string
	Queue       string
	Status      TicketStatus
	Comments    string
	CreatedAt   time.Time
	ClosedAt    time.Time
	ArchivedAt  time.Time
}

// NewArchive snapshots a terminal ticket. The archive ID is assigned by the store.
func NewArchive(t *Ticket, at time.Time) *ArchivedTicket {
	closedAt := at
	if t.ClosedAt != nil {
		closedAt = *t.ClosedAt
	}
	return &ArchivedTicket{
		OriginalID:  t.ID,
		Title:       t.Title,
		Description: t.Description,
		Requester:   t.Requester,
		Assignee:    clonePtr(t.Assignee),
		Queue:       t.Queue,
		Status:      t.Status,
		Comments:    FlattenComments(t.Comments),
		CreatedAt:   t.CreatedAt,
		ClosedAt:    closedAt,
		ArchivedAt:  at,
	}
}
