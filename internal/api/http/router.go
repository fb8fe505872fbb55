package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-engine/internal/api/http/handlers"
	"github.com/spec-kit/ticket-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Queues         *handlers.QueuesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	app.Post("/auth/token", cfg.Auth.Token)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle, auth.RequireSubject())

	tickets := v1.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Post("/:id/assign", cfg.Tickets.Assign)
	tickets.Post("/:id/claim", cfg.Tickets.Claim)
	tickets.Post("/:id/unclaim", cfg.Tickets.Unclaim)
	tickets.Post("/:id/close", cfg.Tickets.Close)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/attachments", cfg.Tickets.Attach)
	tickets.Delete("/:id/attachments/:ref", cfg.Tickets.Detach)
	tickets.Post("/:id/links", cfg.Tickets.Link)
	tickets.Delete("/:id/links/:kind/:linkID", cfg.Tickets.Unlink)
	tickets.Post("/:id/participants", cfg.Tickets.AddParticipant)
	tickets.Delete("/:id/participants/:identity", cfg.Tickets.RemoveParticipant)
	tickets.Post("/:id/viewed", cfg.Tickets.MarkViewed)

	archives := v1.Group("/archives")
	archives.Get("/:id", cfg.Tickets.GetArchive)
	archives.Post("/:id/reopen", cfg.Tickets.ReopenArchive)

	queues := v1.Group("/queues")
	queues.Get("/", cfg.Queues.List)
	queues.Put("/:name/assignee", cfg.Queues.SetAssignee)
}
