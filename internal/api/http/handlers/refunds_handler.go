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

// HeaderIdempotencyKey carries the client's retry key on refund creation.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// RefundsHandler manages refund requests and their settlement.
type RefundsHandler struct {
	service *service.RefundService
	images  AttachmentChecker
}

// NewRefundsHandler constructs handler.
func NewRefundsHandler(refundService *service.RefundService, images AttachmentChecker) *RefundsHandler {
	return &RefundsHandler{service: refundService, images: images}
}

// CreateRefund POST /refunds. A replayed Idempotency-Key answers 200 with the
// original refund instead of 201.
func (h *RefundsHandler) CreateRefund(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateRefundRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return apperrors.NewValidationError("idempotency key too long", map[string]any{"max_length": maxIdempotencyKeyLen})
	}
	if err := checkStorageKeys(h.images, principal, "images", req.Images); err != nil {
		return err
	}

	refund, replayed, err := h.service.CreateRefund(c.UserContext(), principal, service.RefundCreateInput{
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Amount,
		Reason:          domain.RefundReason(strings.ToLower(strings.TrimSpace(req.Reason))),
		Description:     req.Description,
		Images:          req.Images,
		IdempotencyKey:  key,
	})
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		c.Set("Idempotent-Replayed", "true")
	}
	return c.Status(status).JSON(fiber.Map{"data": refundResponse(refund)})
}

// ListRefunds GET /refunds.
func (h *RefundsHandler) ListRefunds(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	filter := service.RefundListFilter{PaymentIntentID: optionalQuery(c, "payment_intent_id")}
	for _, raw := range splitList(c.Query("status")) {
		status := domain.RefundStatus(strings.ToLower(raw))
		if !status.IsValid() {
			return apperrors.NewValidationError("unknown refund status", map[string]any{"status": raw})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	filter.Limit, filter.Offset = pagination(c)

	refunds, err := h.service.ListRefunds(c.UserContext(), principal, filter)
	if err != nil {
		return err
	}
	items := make([]dto.RefundResponse, 0, len(refunds))
	for i := range refunds {
		items = append(items, refundResponse(&refunds[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetRefund GET /refunds/:id.
func (h *RefundsHandler) GetRefund(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	refund, err := h.service.GetRefund(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": refundResponse(refund)})
}

// ApproveRefund POST /admin/refunds/:id/approve.
func (h *RefundsHandler) ApproveRefund(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	refund, err := h.service.ApproveRefund(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": refundResponse(refund)})
}

// RejectRefund POST /admin/refunds/:id/reject.
func (h *RefundsHandler) RejectRefund(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	refund, err := h.service.RejectRefund(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": refundResponse(refund)})
}

func refundResponse(refund *domain.Refund) dto.RefundResponse {
	images := refund.Images
	if images == nil {
		images = []string{}
	}
	return dto.RefundResponse{
		ID:              refund.ID,
		PaymentIntentID: refund.PaymentIntentID,
		OrderID:         refund.OrderID,
		RequestedBy:     refund.RequestedBy,
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          refund.Reason,
		Status:          refund.Status,
		Description:     refund.Description,
		Images:          images,
		ProcessedBy:     refund.ProcessedBy,
		CreatedAt:       refund.CreatedAt,
		ProcessedAt:     refund.ProcessedAt,
	}
}
