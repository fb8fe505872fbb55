package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/events"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// Close moves a live ticket to a terminal outcome and archives it in the same
// store transaction. A non-empty reason is appended as a comment first.
func (s *TicketService) Close(ctx context.Context, id int64, actor string, outcome domain.TicketStatus, reason string) (*domain.Ticket, error) {
	if !outcome.IsTerminal() {
		s.record(opClose, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("outcome must be a terminal status", map[string]any{
			"outcome": string(outcome),
		})
	}
	reason = strings.TrimSpace(reason)

	var previous domain.TicketStatus
	ticket, err := s.update(ctx, opClose, id, actor, domain.ActionClose, func(t *domain.Ticket, now time.Time) (*domain.ArchivedTicket, error) {
		previous = t.Status
		if err := t.Transition(domain.TriggerClose, outcome, now); err != nil {
			return nil, err
		}
		if reason != "" {
			t.AppendComment(actor, reason, false, now)
		}
		return domain.NewArchive(t, now), nil
	})
	if err != nil {
		return nil, err
	}

	var archiveID int64
	if ticket.ArchiveRef != nil {
		archiveID = *ticket.ArchiveRef
	}
	s.publishEvent(ctx, ticket, actor, events.EventTicketClosed, without(ticket.Participants, actor), events.TicketClosedPayload{
		OldStatus: previous,
		NewStatus: ticket.Status,
		Reason:    reason,
		ArchiveID: archiveID,
	})
	return ticket, nil
}

// Reopen spawns a new open ticket from the archive of a terminal ticket.
func (s *TicketService) Reopen(ctx context.Context, ticketID int64, actor string) (*domain.Ticket, error) {
	original, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		err = s.mapStoreError(err, opReopen, ticketID)
		s.record(opReopen, err)
		return nil, err
	}
	if !original.IsTerminal() {
		err := apperrors.NewInvalidTransition("only closed tickets can be reopened", map[string]any{
			"ticket_id": ticketID,
			"status":    string(original.Status),
		})
		s.record(opReopen, err)
		return nil, err
	}
	archive, err := s.store.GetArchiveByTicket(ctx, ticketID)
	if err != nil {
		err = s.mapStoreError(err, opReopen, ticketID)
		s.record(opReopen, err)
		return nil, err
	}
	return s.reopen(ctx, archive, original, actor)
}

// ReopenArchive spawns a new open ticket from an archive reference.
func (s *TicketService) ReopenArchive(ctx context.Context, archiveID int64, actor string) (*domain.Ticket, error) {
	archive, err := s.store.GetArchive(ctx, archiveID)
	if err != nil {
		err = s.mapStoreError(err, opReopen, archiveID)
		s.record(opReopen, err)
		return nil, err
	}
	original, err := s.store.GetTicket(ctx, archive.OriginalID)
	if err != nil {
		original = nil
	}
	return s.reopen(ctx, archive, original, actor)
}

// GetArchive returns an archive snapshot the actor may view.
func (s *TicketService) GetArchive(ctx context.Context, archiveID int64, actor string) (*domain.ArchivedTicket, error) {
	archive, err := s.store.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, s.mapStoreError(err, "get_archive", archiveID)
	}
	original, err := s.store.GetTicket(ctx, archive.OriginalID)
	if err != nil {
		original = nil
	}
	if !s.can(actor, archiveSubject(archive, original), domain.ActionView) {
		return nil, apperrors.NewPermissionDenied("not allowed to view archive", map[string]any{"archive_id": archiveID})
	}
	return archive, nil
}

func (s *TicketService) reopen(ctx context.Context, archive *domain.ArchivedTicket, original *domain.Ticket, actor string) (*domain.Ticket, error) {
	if !s.can(actor, archiveSubject(archive, original), domain.ActionReopen) {
		err := apperrors.NewPermissionDenied("not allowed to reopen ticket", map[string]any{
			"archive_id": archive.ID,
			"actor":      actor,
		})
		s.record(opReopen, err)
		return nil, err
	}
	queue, err := s.queues.GetOrCreateQueue(ctx, archive.Queue)
	if err != nil {
		s.record(opReopen, err)
		return nil, err
	}

	now := s.now()
	originalID := archive.OriginalID
	ticket := &domain.Ticket{
		Title:        archive.Title,
		Description:  archive.Description,
		Status:       domain.TicketStatusOpen,
		Queue:        queue.Name,
		Requester:    archive.Requester,
		Participants: []string{archive.Requester},
		ReopenedFrom: &originalID,
		CreatedAt:    now,
		UpdatedAt:    now,
		ActivityAt:   now,
	}
	if archive.Assignee != nil {
		setAssignee(ticket, *archive.Assignee)
	}
	ticket.AppendComment(domain.SystemAuthor,
		fmt.Sprintf("reopened by %s (previous ticket #%d)", actor, archive.OriginalID), true, now)
	if archive.Comments != "" {
		ticket.AppendComment(domain.SystemAuthor,
			domain.PreviousCommentsDivider+"\n"+archive.Comments, true, now)
	}

	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		err = s.mapStoreError(err, opReopen, archive.OriginalID)
		s.record(opReopen, err)
		return nil, err
	}
	s.record(opReopen, nil)
	s.logger.Debug("ticket reopened",
		zap.Int64("ticket_id", ticket.ID),
		zap.Int64("original_id", archive.OriginalID),
		zap.Int64("archive_id", archive.ID),
		zap.String("actor", actor),
	)

	recipients := []string{ticket.Requester}
	if ticket.Assignee != nil && *ticket.Assignee != ticket.Requester {
		recipients = append(recipients, *ticket.Assignee)
	}
	s.publishEvent(ctx, ticket, actor, events.EventTicketReopened, without(recipients, actor), events.TicketReopenedPayload{
		ArchiveID:  archive.ID,
		OriginalID: archive.OriginalID,
	})
	return ticket, nil
}

// archiveSubject is what the permission predicate sees for archive operations.
// The retained live row is preferred; otherwise the snapshot fields are used.
func archiveSubject(archive *domain.ArchivedTicket, original *domain.Ticket) *domain.Ticket {
	if original != nil {
		return original
	}
	closedAt := archive.ClosedAt
	ref := archive.ID
	return &domain.Ticket{
		ID:           archive.OriginalID,
		Title:        archive.Title,
		Description:  archive.Description,
		Status:       archive.Status,
		Queue:        archive.Queue,
		Requester:    archive.Requester,
		Assignee:     archive.Assignee,
		Participants: []string{archive.Requester},
		CreatedAt:    archive.CreatedAt,
		ClosedAt:     &closedAt,
		ArchiveRef:   &ref,
	}
}
