package dto

import (
	"time"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// CreateRefundRequest payload. Amount is in minor currency units.
type CreateRefundRequest struct {
	PaymentIntentID string   `json:"payment_intent_id"`
	Amount          int64    `json:"amount"`
	Reason          string   `json:"reason"`
	Description     string   `json:"description"`
	Images          []string `json:"images"`
}

// RefundResponse represents a refund.
type RefundResponse struct {
	ID              string              `json:"id"`
	PaymentIntentID string              `json:"payment_intent_id"`
	OrderID         string              `json:"order_id"`
	RequestedBy     string              `json:"requested_by"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Reason          domain.RefundReason `json:"reason"`
	Status          domain.RefundStatus `json:"status"`
	Description     string              `json:"description"`
	Images          []string            `json:"images"`
	ProcessedBy     *string             `json:"processed_by"`
	CreatedAt       time.Time           `json:"created_at"`
	ProcessedAt     *time.Time          `json:"processed_at"`
}
