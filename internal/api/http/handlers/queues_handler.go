package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-engine/internal/api/dto"
	"github.com/spec-kit/ticket-engine/internal/service"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// QueuesHandler exposes the queue registry.
type QueuesHandler struct {
	registry *service.QueueRegistry
}

// NewQueuesHandler constructs handler.
func NewQueuesHandler(registry *service.QueueRegistry) *QueuesHandler {
	return &QueuesHandler{registry: registry}
}

// List GET /queues.
func (h *QueuesHandler) List(c *fiber.Ctx) error {
	if _, err := requirePrincipal(c); err != nil {
		return err
	}
	queues, err := h.registry.ListQueues(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.QueueResponse, 0, len(queues))
	for _, q := range queues {
		items = append(items, dto.NewQueueResponse(q))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SetAssignee PUT /queues/:name/assignee.
func (h *QueuesHandler) SetAssignee(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.QueueAssigneeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	queue, err := h.registry.SetAutomaticAssignee(c.UserContext(), pathParam(c, "name"), req.Assignee, principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewQueueResponse(*queue)})
}
