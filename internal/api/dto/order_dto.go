package dto

import (
	"time"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// OrderResponse represents an order.
type OrderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	SellerID        string              `json:"seller_id"`
	PaymentIntentID string              `json:"payment_intent_id"`
	Status          domain.OrderStatus  `json:"status"`
	Currency        string              `json:"currency"`
	TotalAmount     int64               `json:"total_amount"`
	Items           []OrderItemResponse `json:"items"`
	ShippingAddress AddressResponse     `json:"shipping_address"`
	CreatedAt       time.Time           `json:"created_at"`
}

// OrderItemResponse is one order line.
type OrderItemResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// AddressResponse is a shipping address.
type AddressResponse struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AgentResponse represents a support agent.
type AgentResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// UploadResponse describes a stored upload.
type UploadResponse struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}
