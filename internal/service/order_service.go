package service

import (
	"context"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// OrderService exposes read access to checkout orders.
type OrderService struct {
	orders repository.OrderRepository
}

// NewOrderService constructs the service.
func NewOrderService(orders repository.OrderRepository) *OrderService {
	return &OrderService{orders: orders}
}

// GetOrder returns an order to its buyer, its seller or an admin.
func (s *OrderService) GetOrder(ctx context.Context, p domain.Principal, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, mapRepoError(err, "order", map[string]any{"order_id": orderID})
	}
	if !p.IsAdmin() && !order.InvolvesUser(p.UserID) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return order, nil
}

// ListOrders returns orders the caller bought or sold. Admins may list the
// orders of another user by passing userID.
func (s *OrderService) ListOrders(ctx context.Context, p domain.Principal, userID string, limit, offset int) ([]domain.Order, error) {
	target := p.UserID
	if p.IsAdmin() && userID != "" {
		target = userID
	}
	orders, err := s.orders.ListByUser(ctx, target, limit, offset)
	if err != nil {
		return nil, mapRepoError(err, "order", nil)
	}
	return orders, nil
}
