package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-support/internal/api/dto"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/service"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// TicketsHandler manages ticket endpoints shared by buyers, sellers and admins.
type TicketsHandler struct {
	service     *service.TicketService
	attachments AttachmentChecker
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, attachments AttachmentChecker) *TicketsHandler {
	return &TicketsHandler{service: ticketService, attachments: attachments}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	category, err := domain.ParseTicketCategory(req.Category)
	if err != nil {
		return err
	}
	var priority domain.TicketPriority
	if strings.TrimSpace(req.Priority) != "" {
		if priority, err = domain.ParseTicketPriority(req.Priority); err != nil {
			return err
		}
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    category,
		Priority:    priority,
		OrderID:     trimmedOrNil(req.OrderID),
		ProductID:   trimmedOrNil(req.ProductID),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /tickets. Non-admin callers only ever see their own tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), principal, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	detail, err := h.service.GetTicket(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(detail)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	keys := make([]string, 0, len(req.Attachments))
	attachments := make([]service.AttachmentInput, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		keys = append(keys, att.StorageKey)
		attachments = append(attachments, service.AttachmentInput{
			StorageKey: att.StorageKey,
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
		})
	}
	if err := checkStorageKeys(h.attachments, principal, "attachments", keys); err != nil {
		return err
	}

	msg, err := h.service.AppendMessage(c.UserContext(), principal, c.Params("id"), service.MessageInput{
		Body:        req.Body,
		Internal:    req.Internal,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketMessageResponse(msg)})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.CloseTicket(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.service.ListHistory(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{
		SearchTerm: strings.TrimSpace(c.Query("search")),
		UserID:     optionalQuery(c, "user_id"),
		AssigneeID: optionalQuery(c, "assignee"),
	}
	statuses, err := domain.ParseTicketStatusFilter(c.Query("status"))
	if err != nil {
		return filter, err
	}
	filter.Statuses = statuses
	for _, raw := range splitList(c.Query("category")) {
		category, err := domain.ParseTicketCategory(raw)
		if err != nil {
			return filter, err
		}
		filter.Categories = append(filter.Categories, category)
	}
	for _, raw := range splitList(c.Query("priority")) {
		priority, err := domain.ParseTicketPriority(raw)
		if err != nil {
			return filter, err
		}
		filter.Priorities = append(filter.Priorities, priority)
	}
	filter.Limit, filter.Offset = pagination(c)
	return filter, nil
}

func trimmedOrNil(val *string) *string {
	if val == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:          ticket.ID,
		ExternalKey: ticket.ExternalKey,
		UserID:      ticket.UserID,
		OrderID:     ticket.OrderID,
		ProductID:   ticket.ProductID,
		AssignedTo:  ticket.AssignedTo,
		Title:       ticket.Title,
		Category:    ticket.Category,
		Status:      ticket.Status,
		Priority:    ticket.Priority,
		CreatedAt:   ticket.CreatedAt,
		UpdatedAt:   ticket.UpdatedAt,
	}
}

func ticketDetail(detail *service.TicketDetail) dto.TicketDetailResponse {
	msgs := make([]dto.TicketMessageResponse, 0, len(detail.Messages))
	for i := range detail.Messages {
		msgs = append(msgs, ticketMessageResponse(&detail.Messages[i]))
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(detail.Ticket),
		Description:   detail.Ticket.Description,
		ResolvedAt:    detail.Ticket.ResolvedAt,
		ClosedAt:      detail.Ticket.ClosedAt,
		Messages:      msgs,
	}
}

func ticketMessageResponse(msg *domain.TicketMessage) dto.TicketMessageResponse {
	attachments := make([]dto.AttachmentResponse, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, dto.AttachmentResponse{
			ID:         att.ID,
			StorageKey: att.StorageKey,
			FileName:   att.FileName,
			MimeType:   att.MimeType,
			SizeBytes:  att.SizeBytes,
		})
	}
	return dto.TicketMessageResponse{
		ID:          msg.ID,
		TicketID:    msg.TicketID,
		AuthorType:  msg.AuthorType,
		AuthorID:    msg.AuthorID,
		Body:        msg.Body,
		Internal:    msg.Internal,
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:            entry.ID,
			ChangeType:    entry.ChangeType,
			ChangedByType: entry.ChangedByType,
			ChangedByID:   entry.ChangedByID,
			OldValue:      entry.OldValue,
			NewValue:      entry.NewValue,
			CreatedAt:     entry.CreatedAt,
		})
	}
	return resp
}
