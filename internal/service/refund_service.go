package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/clock"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// IdempotencyStore remembers which refund an Idempotency-Key produced.
type IdempotencyStore interface {
	// Reserve stores value under key unless the key exists. It returns the
	// stored value and whether this call created it.
	Reserve(ctx context.Context, key, value string) (string, bool, error)
	// Release forgets key so a failed request can be retried.
	Release(ctx context.Context, key string) error
}

// RefundService coordinates refund requests and their settlement.
type RefundService struct {
	refunds     repository.RefundRepository
	orders      repository.OrderRepository
	idempotency IdempotencyStore
	clock       clock.Clock
	events      eventPublisher
	logger      *zap.Logger
}

// RefundDependencies bundles collaborators of the refund service.
type RefundDependencies struct {
	RefundRepo  repository.RefundRepository
	OrderRepo   repository.OrderRepository
	Idempotency IdempotencyStore
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
}

// RefundCreateInput describes a refund request.
type RefundCreateInput struct {
	PaymentIntentID string
	Amount          int64
	Reason          domain.RefundReason
	Description     string
	Images          []string
	IdempotencyKey  string
}

// RefundListFilter narrows refund listings.
type RefundListFilter struct {
	Statuses        []domain.RefundStatus
	PaymentIntentID *string
	Limit           int
	Offset          int
}

// NewRefundService constructs the service.
func NewRefundService(deps RefundDependencies) *RefundService {
	clk := defaultClock(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefundService{
		refunds:     deps.RefundRepo,
		orders:      deps.OrderRepo,
		idempotency: deps.Idempotency,
		clock:       clk,
		events:      eventPublisher{dispatcher: deps.Dispatcher, clock: clk},
		logger:      logger,
	}
}

// CreateRefund records a pending refund against an order's payment. A
// repeated Idempotency-Key from the same caller returns the first refund
// with replayed=true, or a conflict when the request body differs.
func (s *RefundService) CreateRefund(ctx context.Context, p domain.Principal, input RefundCreateInput) (refund *domain.Refund, replayed bool, err error) {
	if err := validateRefundInput(&input); err != nil {
		return nil, false, err
	}
	order, err := s.orders.GetByPaymentIntent(ctx, input.PaymentIntentID)
	if err != nil {
		return nil, false, mapRepoError(err, "order", map[string]any{"payment_intent_id": input.PaymentIntentID})
	}
	if !p.IsAdmin() && order.UserID != p.UserID {
		return nil, false, apperrors.NewForbidden("only the buyer of the order can request a refund")
	}

	id := newID()
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" && s.idempotency != nil {
		scoped := p.UserID + ":" + key
		existingID, reserved, reserveErr := s.idempotency.Reserve(ctx, scoped, id)
		if reserveErr != nil {
			return nil, false, apperrors.NewInternalError(reserveErr)
		}
		if !reserved {
			existing, getErr := s.refunds.GetByID(ctx, existingID)
			if errors.Is(getErr, repository.ErrNotFound) {
				return nil, false, apperrors.NewConflict("a request with this idempotency key is in progress", map[string]any{"idempotency_key": key})
			}
			if getErr != nil {
				return nil, false, mapRepoError(getErr, "refund", nil)
			}
			if !matchesRequest(existing, input) {
				return nil, false, apperrors.NewConflict("idempotency key was used for a different refund request", map[string]any{
					"idempotency_key": key,
					"refund_id":       existing.ID,
				})
			}
			return existing, true, nil
		}
		defer func() {
			if err == nil {
				return
			}
			if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), scoped); releaseErr != nil {
				s.logger.Warn("release idempotency key", zap.String("key", scoped), zap.Error(releaseErr))
			}
		}()
	}

	refund, err = s.insertRefund(ctx, p, order, id, input)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("refund requested",
		zap.String("refund_id", refund.ID),
		zap.String("payment_intent_id", refund.PaymentIntentID),
		zap.Int64("amount", refund.Amount))
	s.events.publish(ctx, events.Event{
		Type:      events.EventRefundRequested,
		SubjectID: refund.ID,
		Actor:     events.ActorFor(p),
		Payload: events.RefundRequestedPayload{
			PaymentIntentID: refund.PaymentIntentID,
			OrderID:         refund.OrderID,
			Amount:          refund.Amount,
			Currency:        refund.Currency,
			Reason:          refund.Reason,
		},
	})
	return refund, false, nil
}

// insertRefund stores a pending refund. The repository checks the balance
// and inserts in one step, so concurrent requests cannot overdraw an order.
func (s *RefundService) insertRefund(ctx context.Context, p domain.Principal, order *domain.Order, id string, input RefundCreateInput) (*domain.Refund, error) {
	refund := &domain.Refund{
		ID:              id,
		PaymentIntentID: order.PaymentIntentID,
		OrderID:         order.ID,
		RequestedBy:     p.UserID,
		Amount:          input.Amount,
		Currency:        order.Currency,
		Reason:          input.Reason,
		Status:          domain.RefundStatusPending,
		Description:     input.Description,
		Images:          input.Images,
		CreatedAt:       s.clock.Now(),
	}
	err := s.refunds.Create(ctx, refund)
	switch {
	case errors.Is(err, repository.ErrBalanceExceeded):
		return nil, apperrors.NewValidationError("refund exceeds the refundable amount", map[string]any{
			"order_total": order.TotalAmount,
			"refundable":  s.refundable(ctx, order),
			"requested":   input.Amount,
		})
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewNotFound("order", map[string]any{"payment_intent_id": order.PaymentIntentID})
	case err != nil:
		return nil, mapRepoError(err, "refund", map[string]any{"refund_id": id})
	}
	return refund, nil
}

// refundable reports what is left to refund on order, for error details.
func (s *RefundService) refundable(ctx context.Context, order *domain.Order) int64 {
	existing, err := s.refunds.ListByPaymentIntent(ctx, order.PaymentIntentID)
	if err != nil {
		s.logger.Warn("load refunds for balance", zap.String("payment_intent_id", order.PaymentIntentID), zap.Error(err))
		return 0
	}
	remaining := order.TotalAmount
	for i := range existing {
		if existing[i].CountsAgainstBalance() {
			remaining -= existing[i].Amount
		}
	}
	return max(remaining, 0)
}

// ApproveRefund settles a pending refund as succeeded.
func (s *RefundService) ApproveRefund(ctx context.Context, p domain.Principal, refundID string) (*domain.Refund, error) {
	return s.settle(ctx, p, refundID, (*domain.Refund).Approve)
}

// RejectRefund settles a pending refund as failed.
func (s *RefundService) RejectRefund(ctx context.Context, p domain.Principal, refundID string) (*domain.Refund, error) {
	return s.settle(ctx, p, refundID, (*domain.Refund).Reject)
}

func (s *RefundService) settle(ctx context.Context, p domain.Principal, refundID string, decide func(*domain.Refund, string, time.Time) error) (*domain.Refund, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, mapRepoError(err, "refund", map[string]any{"refund_id": refundID})
	}
	previous := refund.Status
	if err := decide(refund, p.UserID, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.refunds.Settle(ctx, refund, previous); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			current, getErr := s.refunds.GetByID(ctx, refundID)
			if getErr != nil {
				return nil, mapRepoError(getErr, "refund", map[string]any{"refund_id": refundID})
			}
			return nil, apperrors.NewInvalidTransition("refund", string(current.Status), string(refund.Status))
		}
		return nil, mapRepoError(err, "refund", map[string]any{"refund_id": refundID})
	}

	s.logger.Info("refund processed",
		zap.String("refund_id", refund.ID),
		zap.String("status", string(refund.Status)),
		zap.String("processed_by", p.UserID))
	s.events.publish(ctx, events.Event{
		Type:      events.EventRefundProcessed,
		SubjectID: refund.ID,
		Actor:     events.ActorFor(p),
		Payload: events.RefundProcessedPayload{
			PaymentIntentID: refund.PaymentIntentID,
			Amount:          refund.Amount,
			Status:          refund.Status,
		},
	})
	return refund, nil
}

// GetRefund returns a refund to its requester or an admin.
func (s *RefundService) GetRefund(ctx context.Context, p domain.Principal, refundID string) (*domain.Refund, error) {
	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return nil, mapRepoError(err, "refund", map[string]any{"refund_id": refundID})
	}
	if !p.IsAdmin() && refund.RequestedBy != p.UserID {
		return nil, apperrors.NewForbidden("access denied")
	}
	return refund, nil
}

// ListRefunds returns the caller's refunds, or every refund for admins.
func (s *RefundService) ListRefunds(ctx context.Context, p domain.Principal, filter RefundListFilter) ([]domain.Refund, error) {
	repoFilter := repository.RefundFilter{
		PaymentIntentID: filter.PaymentIntentID,
		Statuses:        filter.Statuses,
		Limit:           filter.Limit,
		Offset:          filter.Offset,
	}
	if !p.IsAdmin() {
		userID := p.UserID
		repoFilter.RequestedBy = &userID
	}
	refunds, err := s.refunds.List(ctx, repoFilter)
	if err != nil {
		return nil, mapRepoError(err, "refund", nil)
	}
	return refunds, nil
}

// matchesRequest reports whether a stored refund was created from the same
// request body as input.
func matchesRequest(refund *domain.Refund, input RefundCreateInput) bool {
	return refund.PaymentIntentID == input.PaymentIntentID &&
		refund.Amount == input.Amount &&
		refund.Reason == input.Reason &&
		refund.Description == input.Description &&
		slices.Equal(refund.Images, input.Images)
}

func validateRefundInput(input *RefundCreateInput) error {
	input.PaymentIntentID = strings.TrimSpace(input.PaymentIntentID)
	input.Description = strings.TrimSpace(input.Description)
	if input.Reason == "" {
		input.Reason = domain.RefundReasonRequestedByCustomer
	}
	details := map[string]any{}
	if input.PaymentIntentID == "" {
		details["payment_intent_id"] = "required"
	}
	if input.Amount <= 0 {
		details["amount"] = "must be greater than zero"
	}
	if !input.Reason.IsValid() {
		details["reason"] = "unknown reason"
	}
	for _, image := range input.Images {
		if strings.TrimSpace(image) == "" {
			details["images"] = "must not contain empty keys"
			break
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid refund", details)
	}
	return nil
}
