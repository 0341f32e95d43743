package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-support/internal/api/http/handlers"
	"github.com/spec-kit/marketplace-support/internal/auth"
	"github.com/spec-kit/marketplace-support/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	AdminTickets   *handlers.AdminTicketsHandler
	Refunds        *handlers.RefundsHandler
	Orders         *handlers.OrdersHandler
	Uploads        *handlers.UploadsHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	middlewares := []fiber.Handler{cfg.AuthMiddleware.Handle}
	if cfg.RateLimit != nil {
		middlewares = append(middlewares, cfg.RateLimit)
	}
	api := app.Group("/api/v1", middlewares...)

	api.Post("/uploads", cfg.Uploads.Upload)

	api.Post("/tickets", cfg.Tickets.CreateTicket)
	api.Get("/tickets", cfg.Tickets.ListTickets)
	api.Get("/tickets/:id", cfg.Tickets.GetTicket)
	api.Post("/tickets/:id/messages", cfg.Tickets.AddMessage)
	api.Post("/tickets/:id/close", cfg.Tickets.CloseTicket)
	api.Get("/tickets/:id/history", cfg.Tickets.ListHistory)

	api.Get("/orders", cfg.Orders.ListOrders)
	api.Get("/orders/:id", cfg.Orders.GetOrder)

	api.Post("/refunds", cfg.Refunds.CreateRefund)
	api.Get("/refunds", cfg.Refunds.ListRefunds)
	api.Get("/refunds/:id", cfg.Refunds.GetRefund)

	admin := api.Group("/admin", auth.RequireRole(domain.RoleAdmin))
	admin.Get("/tickets", cfg.Tickets.ListTickets)
	admin.Patch("/tickets/:id", cfg.AdminTickets.UpdateTicket)
	admin.Put("/tickets/:id/status", cfg.AdminTickets.UpdateStatus)
	admin.Put("/tickets/:id/assignee", cfg.AdminTickets.AssignTicket)
	admin.Get("/agents", cfg.AdminTickets.ListAgents)
	admin.Post("/refunds/:id/approve", cfg.Refunds.ApproveRefund)
	admin.Post("/refunds/:id/reject", cfg.Refunds.RejectRefund)
	admin.Get("/metrics", cfg.Health.Metrics)
}
