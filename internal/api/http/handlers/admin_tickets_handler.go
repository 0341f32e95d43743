package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-support/internal/api/dto"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/service"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// AdminTicketsHandler handles the support console endpoints.
type AdminTicketsHandler struct {
	tickets     *service.TicketService
	assignments *service.AssignmentService
}

// NewAdminTicketsHandler constructs handler.
func NewAdminTicketsHandler(tickets *service.TicketService, assignments *service.AssignmentService) *AdminTicketsHandler {
	return &AdminTicketsHandler{tickets: tickets, assignments: assignments}
}

// UpdateTicket PATCH /admin/tickets/:id.
func (h *AdminTicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	patch := service.TicketPatch{
		Title:         req.Title,
		Description:   req.Description,
		AssignedTo:    trimmedOrNil(req.AssignedTo),
		ClearAssignee: req.ClearAssignee,
		Comment:       req.Comment,
	}
	if req.Category != nil {
		category, err := domain.ParseTicketCategory(*req.Category)
		if err != nil {
			return err
		}
		patch.Category = &category
	}
	if req.Priority != nil {
		priority, err := domain.ParseTicketPriority(*req.Priority)
		if err != nil {
			return err
		}
		patch.Priority = &priority
	}
	if req.Status != nil {
		status, err := domain.ParseTicketStatus(*req.Status)
		if err != nil {
			return err
		}
		patch.Status = &status
	}

	ticket, err := h.tickets.EditFields(c.UserContext(), principal, c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// UpdateStatus PUT /admin/tickets/:id/status.
func (h *AdminTicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status, err := domain.ParseTicketStatus(req.Status)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.SetStatus(c.UserContext(), principal, c.Params("id"), status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// AssignTicket PUT /admin/tickets/:id/assignee.
func (h *AdminTicketsHandler) AssignTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.assignments.AssignAgent(c.UserContext(), principal, c.Params("id"), trimmedOrNil(req.AgentID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListAgents GET /admin/agents. Pass active=false to include inactive agents.
func (h *AdminTicketsHandler) ListAgents(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	activeOnly := c.Query("active") != "false"
	limit, offset := pagination(c)
	agents, err := h.assignments.ListAgents(c.UserContext(), principal, activeOnly, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		items = append(items, dto.AgentResponse{
			ID:     agent.ID,
			Name:   agent.Name,
			Email:  agent.Email,
			Active: agent.Active,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}
