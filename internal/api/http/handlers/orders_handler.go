package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/marketplace-support/internal/api/dto"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/service"
)

// OrdersHandler exposes read-only order lookups.
type OrdersHandler struct {
	service *service.OrderService
}

// NewOrdersHandler constructs handler.
func NewOrdersHandler(orderService *service.OrderService) *OrdersHandler {
	return &OrdersHandler{service: orderService}
}

// ListOrders GET /orders. Admins may pass user_id.
func (h *OrdersHandler) ListOrders(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	limit, offset := pagination(c)
	orders, err := h.service.ListOrders(c.UserContext(), principal, c.Query("user_id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, orderResponse(&orders[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetOrder GET /orders/:id.
func (h *OrdersHandler) GetOrder(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	order, err := h.service.GetOrder(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": orderResponse(order)})
}

func orderResponse(order *domain.Order) dto.OrderResponse {
	items := make([]dto.OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, dto.OrderItemResponse(item))
	}
	return dto.OrderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		SellerID:        order.SellerID,
		PaymentIntentID: order.PaymentIntentID,
		Status:          order.Status,
		Currency:        order.Currency,
		TotalAmount:     order.TotalAmount,
		Items:           items,
		ShippingAddress: dto.AddressResponse(order.ShippingAddress),
		CreatedAt:       order.CreatedAt,
	}
}
