package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// TemplateResolver decides which attachment argument names a queue's
// ticket template accepts.
type TemplateResolver interface {
	Recognizes(ctx context.Context, queue, argName string) (bool, error)
}

// StaticTemplates maps a queue key to its template parameter names.
type StaticTemplates map[string][]string

// NewStaticTemplates builds a resolver from queue definitions.
func NewStaticTemplates(defs []config.QueueDefinition) StaticTemplates {
	templates := make(StaticTemplates, len(defs))
	for _, def := range defs {
		templates[domain.QueueKey(def.Name)] = slices.Clone(def.Params)
	}
	return templates
}

func (t StaticTemplates) Recognizes(_ context.Context, queue, argName string) (bool, error) {
	return slices.Contains(t[domain.QueueKey(queue)], argName), nil
}

// Attach binds an external object to the ticket, optionally to a template slot.
// Re-attaching an identical entry changes nothing.
func (s *TicketService) Attach(ctx context.Context, id int64, objectRef string, argName *string, actor string) (*domain.Ticket, error) {
	objectRef = strings.TrimSpace(objectRef)
	if objectRef == "" {
		s.record(opAttach, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("object_ref is required", map[string]any{"ticket_id": id})
	}
	var arg *string
	if argName != nil {
		trimmed := strings.TrimSpace(*argName)
		if trimmed == "" {
			s.record(opAttach, apperrors.ErrValidation)
			return nil, apperrors.NewValidationError("arg_name must not be blank", map[string]any{"ticket_id": id})
		}
		arg = &trimmed
	}
	return s.update(ctx, opAttach, id, actor, domain.ActionAttach, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opAttach); err != nil {
			return nil, err
		}
		if arg != nil {
			ok, err := s.templates.Recognizes(ctx, t.Queue, *arg)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, apperrors.NewValidationError("unrecognized template argument", map[string]any{
					"queue":    t.Queue,
					"arg_name": *arg,
				})
			}
		}
		t.Attach(domain.Attachment{ObjectRef: objectRef, ArgName: arg})
		return nil, nil
	})
}

// Detach removes every attachment of objectRef.
func (s *TicketService) Detach(ctx context.Context, id int64, objectRef, actor string) (*domain.Ticket, error) {
	objectRef = strings.TrimSpace(objectRef)
	if objectRef == "" {
		s.record(opDetach, apperrors.ErrValidation)
		return nil, apperrors.NewValidationError("object_ref is required", map[string]any{"ticket_id": id})
	}
	return s.update(ctx, opDetach, id, actor, domain.ActionAttach, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opDetach); err != nil {
			return nil, err
		}
		if !t.Detach(objectRef) {
			return nil, apperrors.NewNotFound("attachment", map[string]any{
				"ticket_id":  t.ID,
				"object_ref": objectRef,
			})
		}
		return nil, nil
	})
}

// LinkExternal records a cross-reference. The linked entity keeps its own reverse reference.
func (s *TicketService) LinkExternal(ctx context.Context, id int64, kind, linkID, actor string) (*domain.Ticket, error) {
	link, err := parseLink(kind, linkID)
	if err != nil {
		s.record(opLink, err)
		return nil, err
	}
	return s.update(ctx, opLink, id, actor, domain.ActionLink, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opLink); err != nil {
			return nil, err
		}
		t.Link(link)
		return nil, nil
	})
}

// UnlinkExternal drops a cross-reference; absent links are ignored.
func (s *TicketService) UnlinkExternal(ctx context.Context, id int64, kind, linkID, actor string) (*domain.Ticket, error) {
	link, err := parseLink(kind, linkID)
	if err != nil {
		s.record(opUnlink, err)
		return nil, err
	}
	return s.update(ctx, opUnlink, id, actor, domain.ActionLink, func(t *domain.Ticket, _ time.Time) (*domain.ArchivedTicket, error) {
		if err := requireLive(t, opUnlink); err != nil {
			return nil, err
		}
		t.Unlink(link)
		return nil, nil
	})
}

func parseLink(kind, id string) (domain.ExternalLink, error) {
	link := domain.ExternalLink{Kind: strings.TrimSpace(kind), ID: strings.TrimSpace(id)}
	if link.Kind == "" || link.ID == "" {
		return link, apperrors.NewValidationError("link kind and id are required", nil)
	}
	return link, nil
}
