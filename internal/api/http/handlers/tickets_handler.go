package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-engine/internal/api/dto"
	"github.com/spec-kit/ticket-engine/internal/auth"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/service"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// TicketsHandler exposes ticket workflow endpoints. The acting identity is
// always the token's actor.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	requester := strings.TrimSpace(req.Requester)
	switch {
	case requester == "":
		requester = principal.Actor
	case requester != principal.Actor && principal.SubjectType != domain.SubjectTypeClient:
		return apperrors.NewPermissionDenied("cannot open tickets for another identity", map[string]any{"requester": requester})
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), service.TicketCreateInput{
		Queue:       req.Queue,
		Title:       req.Title,
		Description: req.Description,
		Requester:   requester,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetail(ticket, principal.Actor)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c, principal.Actor)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), principal.Actor, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketSummary(&tickets[i], principal.Actor))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.AddComment(c.UserContext(), id, principal.Actor, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetail(ticket, principal.Actor)})
}

// Assign POST /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Assign(c.UserContext(), id, req.Assignee, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Claim POST /tickets/:id/claim.
func (h *TicketsHandler) Claim(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Claim(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Unclaim POST /tickets/:id/unclaim.
func (h *TicketsHandler) Unclaim(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Unclaim(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Close POST /tickets/:id/close.
func (h *TicketsHandler) Close(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.CloseRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Close(c.UserContext(), id, principal.Actor, req.Outcome, req.Reason)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Reopen POST /tickets/:id/reopen.
func (h *TicketsHandler) Reopen(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Reopen(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetail(ticket, principal.Actor)})
}

// ReopenArchive POST /archives/:id/reopen.
func (h *TicketsHandler) ReopenArchive(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.ReopenArchive(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetail(ticket, principal.Actor)})
}

// GetArchive GET /archives/:id.
func (h *TicketsHandler) GetArchive(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	archive, err := h.service.GetArchive(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewArchiveResponse(archive)})
}

// Attach POST /tickets/:id/attachments.
func (h *TicketsHandler) Attach(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.AttachRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Attach(c.UserContext(), id, req.ObjectRef, req.ArgName, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Detach DELETE /tickets/:id/attachments/:ref.
func (h *TicketsHandler) Detach(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Detach(c.UserContext(), id, pathParam(c, "ref"), principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Link POST /tickets/:id/links.
func (h *TicketsHandler) Link(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.LinkExternal(c.UserContext(), id, req.Kind, req.ID, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// Unlink DELETE /tickets/:id/links/:kind/:linkID.
func (h *TicketsHandler) Unlink(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.UnlinkExternal(c.UserContext(), id, pathParam(c, "kind"), pathParam(c, "linkID"), principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// AddParticipant POST /tickets/:id/participants.
func (h *TicketsHandler) AddParticipant(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	var req dto.ParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.AddParticipant(c.UserContext(), id, req.Identity, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// RemoveParticipant DELETE /tickets/:id/participants/:identity.
func (h *TicketsHandler) RemoveParticipant(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.RemoveParticipant(c.UserContext(), id, pathParam(c, "identity"), principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

// MarkViewed POST /tickets/:id/viewed.
func (h *TicketsHandler) MarkViewed(c *fiber.Ctx) error {
	principal, id, err := ticketTarget(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.MarkViewed(c.UserContext(), id, principal.Actor)
	if err != nil {
		return err
	}
	return h.detail(c, principal, ticket)
}

func (h *TicketsHandler) detail(c *fiber.Ctx, principal *auth.Principal, ticket *domain.Ticket) error {
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket, principal.Actor)})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func ticketTarget(c *fiber.Ctx) (*auth.Principal, int64, error) {
	principal, err := requirePrincipal(c)
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, 0, apperrors.NewValidationError("invalid id", map[string]any{"id": c.Params("id")})
	}
	return principal, id, nil
}

func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

func parseTicketQuery(c *fiber.Ctx, actor string) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{
		Queue:       optionalQuery(c, "queue"),
		Participant: optionalQuery(c, "participant"),
		Requester:   optionalQuery(c, "requester"),
		Assignee:    optionalQuery(c, "assignee"),
		UnreadFor:   optionalQuery(c, "unread_for"),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.TrimSpace(part)))
		}
	}
	if c.QueryBool("unread") {
		filter.UnreadFor = &actor
	}
	kind, linkID := c.Query("link_kind"), c.Query("link_id")
	if kind != "" || linkID != "" {
		if kind == "" || linkID == "" {
			return filter, apperrors.NewValidationError("link_kind and link_id go together", nil)
		}
		filter.Link = &domain.ExternalLink{Kind: kind, ID: linkID}
	}
	filter.Limit = parseInt(c.Query("limit"), 50)
	filter.Offset = parseInt(c.Query("offset"), 0)
	return filter, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil
	}
	return &val
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}
