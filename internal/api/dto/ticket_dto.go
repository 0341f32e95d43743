package dto

import (
	"time"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Priority    string  `json:"priority"`
	OrderID     *string `json:"order_id"`
	ProductID   *string `json:"product_id"`
}

// CreateMessageRequest payload. Internal is honoured for admins only.
type CreateMessageRequest struct {
	Body        string              `json:"body"`
	Internal    bool                `json:"internal"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// AttachmentRequest references a previously uploaded file.
type AttachmentRequest struct {
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// UpdateTicketRequest is a partial admin edit. Omitted fields stay unchanged.
type UpdateTicketRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Category      *string `json:"category"`
	Priority      *string `json:"priority"`
	Status        *string `json:"status"`
	AssignedTo    *string `json:"assigned_to"`
	ClearAssignee bool    `json:"clear_assignee"`
	Comment       string  `json:"comment"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// AssignTicketRequest payload. A null agent_id unassigns the ticket.
type AssignTicketRequest struct {
	AgentID *string `json:"agent_id"`
}

// TicketSummary response.
type TicketSummary struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	UserID      string                `json:"user_id"`
	OrderID     *string               `json:"order_id"`
	ProductID   *string               `json:"product_id"`
	AssignedTo  *string               `json:"assigned_to"`
	Title       string                `json:"title"`
	Category    domain.TicketCategory `json:"category"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description string                  `json:"description"`
	ResolvedAt  *time.Time              `json:"resolved_at"`
	ClosedAt    *time.Time              `json:"closed_at"`
	Messages    []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID          string                   `json:"id"`
	TicketID    string                   `json:"ticket_id"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    string                   `json:"author_id"`
	Body        string                   `json:"body"`
	Internal    bool                     `json:"internal"`
	Attachments []AttachmentResponse     `json:"attachments"`
	CreatedAt   time.Time                `json:"created_at"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
}

// TicketHistoryResponse is an audit entry.
type TicketHistoryResponse struct {
	ID            string                   `json:"id"`
	ChangeType    domain.TicketChangeType  `json:"change_type"`
	ChangedByType domain.MessageAuthorType `json:"changed_by_type"`
	ChangedByID   string                   `json:"changed_by_id"`
	OldValue      map[string]any           `json:"old_value"`
	NewValue      map[string]any           `json:"new_value"`
	CreatedAt     time.Time                `json:"created_at"`
}
