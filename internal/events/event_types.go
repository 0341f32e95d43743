package events

import (
	"time"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventRefundRequested     EventType = "refund_requested"
	EventRefundProcessed     EventType = "refund_processed"
)

// AllEventTypes lists every event the services emit.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketUpdated,
	EventTicketAssigned,
	EventTicketMessageAdded,
	EventRefundRequested,
	EventRefundProcessed,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.MessageAuthorType `json:"type"`
	ID   string                   `json:"id"`
}

// ActorFor converts a caller into event actor metadata.
func ActorFor(p domain.Principal) Actor {
	return Actor{Type: p.AuthorType(), ID: p.UserID}
}

// Event represents a domain event emitted by services. SubjectID is the
// ticket or refund the event is about.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SubjectID string    `json:"subject_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string                `json:"external_key"`
	OwnerID     string                `json:"owner_id"`
	Category    domain.TicketCategory `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	Title       string                `json:"title"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketUpdatedPayload lists the fields an edit changed.
type TicketUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OldAgentID *string `json:"old_agent_id,omitempty"`
	NewAgentID *string `json:"new_agent_id,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	Sequence    int64                    `json:"sequence"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	Internal    bool                     `json:"internal"`
	Attachments int                      `json:"attachments"`
	BodyPreview string                   `json:"body_preview"`
}

// RefundRequestedPayload payload.
type RefundRequestedPayload struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	OrderID         string              `json:"order_id"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Reason          domain.RefundReason `json:"reason"`
}

// RefundProcessedPayload payload.
type RefundProcessedPayload struct {
	PaymentIntentID string              `json:"payment_intent_id"`
	Amount          int64               `json:"amount"`
	Status          domain.RefundStatus `json:"status"`
}

const previewLength = 80

// Preview shortens a message body for event payloads.
func Preview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLength {
		return body
	}
	return string(runes[:previewLength]) + "…"
}
