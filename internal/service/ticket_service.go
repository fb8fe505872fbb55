package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	"github.com/spec-kit/ticket-engine/internal/observability"
	"github.com/spec-kit/ticket-engine/internal/repository"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// Operation names used for logging and metrics.
const (
	opCreate            = "create_ticket"
	opComment           = "add_comment"
	opAssign            = "assign"
	opClaim             = "claim"
	opUnclaim           = "unclaim"
	opClose             = "close"
	opReopen            = "reopen"
	opAttach            = "attach"
	opDetach            = "detach"
	opLink              = "link_external"
	opUnlink            = "unlink_external"
	opMarkViewed        = "mark_viewed"
	opAddParticipant    = "add_participant"
	opRemoveParticipant = "remove_participant"
	opSetQueueAssignee  = "set_automatic_assignee"
)

const bodyPreviewLen = 140

const (
	defaultListLimit = 50
	// listScanBatch is the store page size used while filling a visible page.
	listScanBatch = 100
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	store      repository.TicketStore
	queues     *QueueRegistry
	templates  TemplateResolver
	can        domain.Permission
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.TicketStore
	Queues     *QueueRegistry
	Templates  TemplateResolver
	Permission domain.Permission
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// Clock defaults to UTC wall time truncated to microseconds.
	Clock func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Queue       string
	Title       string
	Description string
	Requester   string
}

// TicketListFilter describes listing filters. UnreadFor keeps only tickets
// with activity the given identity has not seen. Limit and Offset count
// tickets the actor may view, after every filter is applied.
type TicketListFilter struct {
	Queue       *string
	Statuses    []domain.TicketStatus
	Participant *string
	Requester   *string
	Assignee    *string
	Link        *domain.ExternalLink
	UnreadFor   *string
	Limit       int
	Offset      int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	can := deps.Permission
	if can == nil {
		can = domain.AllowAll
	}
	clock := deps.Clock
	if clock == nil {
		clock = defaultClock
	}
	queues := deps.Queues
	if queues == nil {
		queues = NewQueueRegistry(deps.Store, can, logger)
	}
	templates := deps.Templates
	if templates == nil {
		templates = StaticTemplates{}
	}
	return &TicketService{
		store:      deps.Store,
		queues:     queues,
		templates:  templates,
		can:        can,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        clock,
	}
}

func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Queues exposes the registry used for routing.
func (s *TicketService) Queues() *QueueRegistry {
	return s.queues
}

// CreateTicket opens a ticket in the named queue. When the queue has an
// automatic assignee the ticket starts claimed by it.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	queueName := strings.TrimSpace(input.Queue)
	title := strings.TrimSpace(input.Title)
	requester := strings.TrimSpace(input.Requester)
	details := map[string]any{}
	if queueName == "" {
		details["queue"] = "required"
	}
	if title == "" {
		details["title"] = "required"
	}
	if requester == "" {
		details["requester"] = "required"
	}
	if len(details) > 0 {
		s.record(opCreate, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	draft := &domain.Ticket{Queue: queueName, Requester: requester, Title: title}
	if !s.can(requester, draft, domain.ActionCreate) {
		s.record(opCreate, apperrors.ErrPermissionDenied)
		return nil, apperrors.NewPermissionDenied("not allowed to create tickets", map[string]any{"queue": queueName})
	}

	queue, err := s.queues.GetOrCreateQueue(ctx, queueName)
	if err != nil {
		s.record(opCreate, err)
		return nil, err
	}

	now := s.now()
	ticket := &domain.Ticket{
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TicketStatusOpen,
		Queue:        queue.Name,
		Requester:    requester,
		Participants: []string{requester},
		CreatedAt:    now,
		UpdatedAt:    now,
		ActivityAt:   now,
	}
	if queue.AutomaticAssignee != nil {
		if err := ticket.Transition(domain.TriggerAssign, domain.TicketStatusClaimed, now); err != nil {
			return nil, err
		}
		assignee := *queue.AutomaticAssignee
		ticket.Assignee = &assignee
		ticket.AddParticipant(assignee)
	}

	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		err = s.mapStoreError(err, opCreate, 0)
		s.record(opCreate, err)
		return nil, err
	}
	s.record(opCreate, nil)
	s.logger.Debug("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.String("queue", ticket.Queue),
		zap.String("requester", requester),
	)

	var recipients []string
	if ticket.Assignee != nil && *ticket.Assignee != requester {
		recipients = []string{*ticket.Assignee}
	}
	s.publishEvent(ctx, ticket, requester, events.EventTicketCreated, recipients, events.TicketCreatedPayload{
		Requester: requester,
		Assignee:  ticket.Assignee,
	})
	return ticket, nil
}

// GetTicket returns a ticket the actor may view.
func (s *TicketService) GetTicket(ctx context.Context, id int64, actor string) (*domain.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, "get_ticket", id)
	}
	if !s.can(actor, ticket, domain.ActionView) {
		return nil, apperrors.NewPermissionDenied("not allowed to view ticket", map[string]any{"ticket_id": id})
	}
	return ticket, nil
}

// ListTickets returns tickets matching filter that the actor may view, ordered by id.
func (s *TicketService) ListTickets(ctx context.Context, actor string, filter TicketListFilter) ([]domain.Ticket, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": string(status)})
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	skip := max(filter.Offset, 0)
	query := repository.TicketFilter{
		Queue:       filter.Queue,
		Statuses:    filter.Statuses,
		Participant: filter.Participant,
		Requester:   filter.Requester,
		Assignee:    filter.Assignee,
		Link:        filter.Link,
		Limit:       listScanBatch,
	}
	visible := make([]domain.Ticket, 0, min(limit, listScanBatch))
	for {
		page, err := s.store.ListTickets(ctx, query)
		if err != nil {
			return nil, s.mapStoreError(err, "list_tickets", 0)
		}
		for i := range page {
			ticket := &page[i]
			if !s.can(actor, ticket, domain.ActionView) {
				continue
			}
			if filter.UnreadFor != nil && !ticket.IsUnread(*filter.UnreadFor) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			visible = append(visible, *ticket)
			if len(visible) == limit {
				return visible, nil
			}
		}
		if len(page) < listScanBatch {
			return visible, nil
		}
		query.Offset += len(page)
	}
}

// AddComment appends a comment to a live ticket.
func (s *TicketService) AddComment(ctx context.Context, id int64, author, text string) (*domain.Ticket, error) {
	author = strings.TrimSpace(author)
	text = strings.TrimSpace(text)
	if author == "" || text == "" {
		s.record(opComment, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("author and text are required", map[string]any{"ticket_id": id})
	}
	ticket, err := s.update(ctx, opComment, id, author, domain.ActionComment, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opComment); err != nil {
			return nil, err
		}
		t.AppendComment(author, text, false, now)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	comment := ticket.Comments[len(ticket.Comments)-1]
	s.publishEvent(ctx, ticket, author, events.EventTicketCommentAdded, ticket.Recipients(author), events.TicketCommentAddedPayload{
		CommentID:   comment.ID,
		Author:      author,
		BodyPreview: preview(text),
	})
	return ticket, nil
}

type mutation func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error)

// update runs fn under the store's per-ticket serialization after the
// permission predicate accepted the current state.
func (s *TicketService) update(ctx context.Context, op string, id int64, actor string, action domain.Action, fn mutation) (*domain.Ticket, error) {
	ticket, err := s.store.UpdateTicket(ctx, id, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
		// Read the clock under the ticket lock so timestamps follow commit order.
		now := s.now()
		if !s.can(actor, t, action) {
			return nil, apperrors.NewPermissionDenied("not allowed to "+string(action)+" ticket", map[string]any{
				"ticket_id": t.ID,
				"actor":     actor,
			})
		}
		archive, err := fn(t, now)
		if err != nil {
			return nil, err
		}
		t.UpdatedAt = now
		return archive, nil
	})
	if err != nil {
		err = s.mapStoreError(err, op, id)
		s.record(op, err)
		s.logger.Debug("ticket operation rejected",
			zap.String("op", op),
			zap.Int64("ticket_id", id),
			zap.String("actor", actor),
			zap.String("code", apperrors.Code(err)),
		)
		return nil, err
	}
	s.record(op, nil)
	s.logger.Debug("ticket updated",
		zap.String("op", op),
		zap.Int64("ticket_id", id),
		zap.String("actor", actor),
		zap.String("status", string(ticket.Status)),
	)
	return ticket, nil
}

// requireLive rejects mutations of terminal tickets.
func requireLive(t *domain.Ticket, op string) error {
	if !t.IsTerminal() {
		return nil
	}
	return apperrors.NewInvalidTransition("ticket is closed", map[string]any{
		"ticket_id": t.ID,
		"status":    string(t.Status),
		"operation": op,
	})
}

func (s *TicketService) mapStoreError(err error, op string, id int64) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, repository.ErrTicketNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	case errors.Is(err, repository.ErrArchiveNotFound):
		return apperrors.NewNotFound("archive", map[string]any{"id": id})
	case errors.Is(err, repository.ErrQueueNotFound):
		return apperrors.NewNotFound("queue", nil)
	case errors.Is(err, repository.ErrStatusConflict):
		if op == opClose {
			return apperrors.NewArchiveConflict(map[string]any{"ticket_id": id})
		}
		return apperrors.NewInvalidTransition("ticket status changed concurrently", map[string]any{"ticket_id": id})
	}
	s.logger.Error("ticket store failure", zap.String("op", op), zap.Int64("ticket_id", id), zap.Error(err))
	return apperrors.NewInternalError(err)
}

func (s *TicketService) record(op string, err error) {
	if err == nil {
		s.metrics.RecordOperation(op, "ok")
		return
	}
	s.metrics.RecordOperation(op, apperrors.Code(err))
}

// publishEvent hands the event to the dispatcher after the store committed.
func (s *TicketService) publishEvent(ctx context.Context, ticket *domain.Ticket, actor string, eventType events.EventType, recipients []string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TicketID:   ticket.ID,
		Queue:      ticket.Queue,
		Title:      ticket.Title,
		Actor:      actor,
		Recipients: recipients,
		Timestamp:  s.now(),
		Payload:    payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", string(eventType)),
			zap.Int64("ticket_id", ticket.ID),
			zap.Error(err),
		)
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= bodyPreviewLen {
		return text
	}
	return string(runes[:bodyPreviewLen]) + "..."
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude && id != "" {
			out = append(out, id)
		}
	}
	return out
}
