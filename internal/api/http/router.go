package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-desk/internal/api/http/handlers"
	"github.com/spec-kit/verification-desk/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Interactions   *handlers.InteractionsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	interactions := app.Group("/interactions", cfg.AuthMiddleware.Handle)
	interactions.Post("/commands/ticket", cfg.Interactions.OpenTicket)
	interactions.Post("/commands/verify-identity", cfg.Interactions.Review)
	interactions.Post("/commands/close", cfg.Interactions.Close)
	interactions.Post("/components", cfg.Interactions.Component)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Get("/", cfg.Interactions.ListTickets)
	tickets.Get("/:ticket_id/history", cfg.Interactions.TicketHistory)
}
