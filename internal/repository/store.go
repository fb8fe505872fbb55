package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

var (
	// ErrTicketNotFound is returned when no ticket has the requested id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrArchiveNotFound is returned when no archive matches the lookup.
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrQueueNotFound is returned when no queue has the requested name.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrStatusConflict is returned when the status compare-and-set lost to another writer.
	ErrStatusConflict = errors.New("ticket status changed concurrently")
)

// TicketFilter captures list parameters. Nil fields do not filter.
type TicketFilter struct {
	Queue       *string
	Statuses    []domain.TicketStatus
	Participant *string
	Requester   *string
	Assignee    *string
	Link        *domain.ExternalLink
	Limit       int
	Offset      int
}

// MutateFunc edits a ticket while the store holds it exclusively. Returning an
// archive makes the store persist it in the same transaction and record its id
// on the ticket. Returning an error aborts without writing anything.
type MutateFunc func(ticket *domain.Ticket) (*domain.ArchivedTicket, error)

// TicketStore persists tickets, their archives and the queue registry.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	GetTicket(ctx context.Context, id int64) (*domain.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// UpdateTicket serializes fn against other updates of the same ticket and
	// commits only if the status read before fn is still current.
	UpdateTicket(ctx context.Context, id int64, fn MutateFunc) (*domain.Ticket, error)

	GetArchive(ctx context.Context, id int64) (*domain.ArchivedTicket, error)
	GetArchiveByTicket(ctx context.Context, ticketID int64) (*domain.ArchivedTicket, error)

	GetOrCreateQueue(ctx context.Context, name string) (*domain.Queue, error)
	SetQueueAssignee(ctx context.Context, name string, assignee *string) (*domain.Queue, error)
	ListQueues(ctx context.Context) ([]domain.Queue, error)
}

const defaultListLimit = 50

func normalizeLimit(filter TicketFilter) (int, int) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
