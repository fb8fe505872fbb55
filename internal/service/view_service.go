package service

import (
	"context"
	"strings"
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// MarkViewed records that identity has seen the ticket now. Terminal tickets
// accept it too since it does not change the workflow.
func (s *TicketService) MarkViewed(ctx context.Context, id int64, identity string) (*domain.Ticket, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		s.record(opMarkViewed, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("identity is required", map[string]any{"ticket_id": id})
	}
	return s.update(ctx, opMarkViewed, id, identity, domain.ActionView, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		t.MarkViewed(identity, now)
		return nil, nil
	})
}

// AddParticipant grants identity read and comment access to the ticket.
func (s *TicketService) AddParticipant(ctx context.Context, id int64, identity, actor string) (*domain.Ticket, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		s.record(opAddParticipant, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("identity is required", map[string]any{"ticket_id": id})
	}
	return s.update(ctx, opAddParticipant, id, actor, domain.ActionParticipants, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opAddParticipant); err != nil {
			return nil, err
		}
		t.AddParticipant(identity)
		return nil, nil
	})
}

// RemoveParticipant revokes a participant. The requester cannot be removed.
func (s *TicketService) RemoveParticipant(ctx context.Context, id int64, identity, actor string) (*domain.Ticket, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		s.record(opRemoveParticipant, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("identity is required", map[string]any{"ticket_id": id})
	}
	return s.update(ctx, opRemoveParticipant, id, actor, domain.ActionParticipants, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opRemoveParticipant); err != nil {
			return nil, err
		}
		if identity == t.Requester {
			return nil, apperrors.NewValidationError("requester cannot be removed", map[string]any{
				"ticket_id": t.ID,
				"identity":  identity,
			})
		}
		t.RemoveParticipant(identity)
		return nil, nil
	})
}
