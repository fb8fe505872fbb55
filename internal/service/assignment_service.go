package service

import (
	"context"
	"strings"
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// Assign hands the ticket to assignee. Assigning an already claimed ticket
// replaces the current assignee.
func (s *TicketService) Assign(ctx context.Context, id int64, assignee, actor string) (*domain.Ticket, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		s.record(opAssign, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("assignee is required", map[string]any{"ticket_id": id})
	}
	var previous *string
	ticket, err := s.update(ctx, opAssign, id, actor, domain.ActionAssign, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		if err := t.Transition(domain.TriggerAssign, domain.TicketStatusClaimed, now); err != nil {
			return nil, err
		}
		previous = t.Assignee
		setAssignee(t, assignee)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, ticket, actor, events.EventTicketAssigned, without([]string{assignee}, actor), events.TicketAssignedPayload{
		Previous: previous,
		Assignee: ticket.Assignee,
	})
	return ticket, nil
}

// Claim assigns an open ticket to the actor.
func (s *TicketService) Claim(ctx context.Context, id int64, actor string) (*domain.Ticket, error) {
	ticket, err := s.update(ctx, opClaim, id, actor, domain.ActionClaim, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		if err := t.Transition(domain.TriggerClaim, domain.TicketStatusClaimed, now); err != nil {
			return nil, err
		}
		setAssignee(t, actor)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, ticket, actor, events.EventTicketClaimed, without([]string{ticket.Requester}, actor), events.TicketAssignedPayload{
		Assignee: ticket.Assignee,
	})
	return ticket, nil
}

// Unclaim returns a claimed ticket to the queue. Only the current assignee may unclaim.
func (s *TicketService) Unclaim(ctx context.Context, id int64, actor string) (*domain.Ticket, error) {
	var previous *string
	ticket, err := s.update(ctx, opUnclaim, id, actor, domain.ActionUnclaim, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		if t.Status == domain.TicketStatusClaimed && !t.IsAssignee(actor) {
			return nil, apperrors.NewPermissionDenied("only the assignee may unclaim", map[string]any{
				"ticket_id": t.ID,
				"actor":     actor,
			})
		}
		if err := t.Transition(domain.TriggerUnclaim, domain.TicketStatusOpen, now); err != nil {
			return nil, err
		}
		previous = t.Assignee
		t.Assignee = nil
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, ticket, actor, events.EventTicketUnclaimed, []string{ticket.Requester}, events.TicketAssignedPayload{
		Previous: previous,
	})
	return ticket, nil
}

func setAssignee(t *domain.Ticket, identity string) {
	value := identity
	t.Assignee = &value
	t.AddParticipant(identity)
}
