package domain

import (
	"time"

	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// RefundStatus enumerates refund lifecycle states. Values mirror the payment
// processor's vocabulary.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundReason enumerates why a refund was requested.
type RefundReason string

const (
	RefundReasonRequestedByCustomer RefundReason = "requested_by_customer"
	RefundReasonFraudulent          RefundReason = "fraudulent"
	RefundReasonDuplicate           RefundReason = "duplicate"
	RefundReasonOther               RefundReason = "other"
)

// Refund is a monetary reversal request against an order's payment.
type Refund struct {
	ID              string
	PaymentIntentID string
	OrderID         string
	RequestedBy     string
	Amount          int64
	Currency        string
	Reason          RefundReason
	Status          RefundStatus
	Description     string
	Images          []string
	ProcessedBy     *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

func (s RefundStatus) IsValid() bool {
	switch s {
	case RefundStatusPending, RefundStatusSucceeded, RefundStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the refund has been settled.
func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusSucceeded || s == RefundStatusFailed
}

func (r RefundReason) IsValid() bool {
	switch r {
	case RefundReasonRequestedByCustomer, RefundReasonFraudulent, RefundReasonDuplicate, RefundReasonOther:
		return true
	}
	return false
}

// BalanceStatuses are the refund states that consume an order's refundable amount.
var BalanceStatuses = []RefundStatus{RefundStatusPending, RefundStatusSucceeded}

// CountsAgainstBalance reports whether the refund consumes the order's refundable amount.
func (r *Refund) CountsAgainstBalance() bool {
	return r.Status == RefundStatusPending || r.Status == RefundStatusSucceeded
}

// Approve settles a pending refund as succeeded.
func (r *Refund) Approve(processedBy string, now time.Time) error {
	return r.settle(RefundStatusSucceeded, processedBy, now)
}

// Reject settles a pending refund as failed.
func (r *Refund) Reject(processedBy string, now time.Time) error {
	return r.settle(RefundStatusFailed, processedBy, now)
}

func (r *Refund) settle(next RefundStatus, processedBy string, now time.Time) error {
	if r.Status != RefundStatusPending {
		return apperrors.NewInvalidTransition("refund", string(r.Status), string(next))
	}
	r.Status = next
	r.ProcessedBy = &processedBy
	r.ProcessedAt = &now
	return nil
}
