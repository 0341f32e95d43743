package memory

import (
	"context"
	"sort"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
)

type refundRepository struct {
	store *Store
}

func (r *refundRepository) Create(_ context.Context, refund *domain.Refund) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refunds[refund.ID]; ok {
		return repository.ErrDuplicate
	}
	var order *domain.Order
	for _, candidate := range s.orders {
		if candidate.PaymentIntentID == refund.PaymentIntentID {
			order = candidate
			break
		}
	}
	if order == nil {
		return repository.ErrNotFound
	}
	committed := refund.Amount
	for _, existing := range s.refunds {
		if existing.PaymentIntentID == refund.PaymentIntentID && existing.CountsAgainstBalance() {
			committed += existing.Amount
		}
	}
	if committed > order.TotalAmount {
		return repository.ErrBalanceExceeded
	}
	s.refunds[refund.ID] = cloneRefund(refund)
	s.refundOrder = append(s.refundOrder, refund.ID)
	return nil
}

func (r *refundRepository) GetByID(_ context.Context, id string) (*domain.Refund, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	refund, ok := s.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRefund(refund), nil
}

func (r *refundRepository) List(_ context.Context, filter repository.RefundFilter) ([]domain.Refund, error) {
	s := r.store
	s.mu.RLock()
	matched := []domain.Refund{}
	for _, id := range s.refundOrder {
		refund := s.refunds[id]
		if filter.Matches(refund) {
			matched = append(matched, *cloneRefund(refund))
		}
	}
	s.mu.RUnlock()

	// newest first; insertion order breaks ties
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *refundRepository) ListByPaymentIntent(_ context.Context, paymentIntentID string) ([]domain.Refund, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := []domain.Refund{}
	for _, id := range s.refundOrder {
		if refund := s.refunds[id]; refund.PaymentIntentID == paymentIntentID {
			result = append(result, *cloneRefund(refund))
		}
	}
	return result, nil
}

func (r *refundRepository) Settle(_ context.Context, refund *domain.Refund, expected domain.RefundStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.refunds[refund.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrStaleState
	}
	stored.Status = refund.Status
	stored.ProcessedBy = cloneString(refund.ProcessedBy)
	stored.ProcessedAt = cloneTime(refund.ProcessedAt)
	return nil
}
