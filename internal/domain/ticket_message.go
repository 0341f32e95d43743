package domain

import (
	"strings"
	"time"

	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// MessageAuthorType indicates who authored a message.
type MessageAuthorType string

const (
	AuthorTypeBuyer  MessageAuthorType = "BUYER"
	AuthorTypeSeller MessageAuthorType = "SELLER"
	AuthorTypeAdmin  MessageAuthorType = "ADMIN"
	AuthorTypeSystem MessageAuthorType = "SYSTEM"
)

// TicketMessage captures communications in a ticket thread. Messages are
// never edited after they are appended; Sequence gives the append order.
type TicketMessage struct {
	ID          string
	TicketID    string
	Sequence    int64
	AuthorID    string
	AuthorType  MessageAuthorType
	Body        string
	Internal    bool
	Attachments []AttachmentReference
	CreatedAt   time.Time
}

// AttachmentReference stores metadata for an uploaded file attached to a message.
type AttachmentReference struct {
	ID         string
	MessageID  string
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
	CreatedAt  time.Time
}

// Author identifies who is posting to a thread.
type Author struct {
	ID   string
	Type MessageAuthorType
}

// NewMessage validates a reply against the ticket state and builds the message
// to append. The caller assigns ID and Sequence when persisting. The ticket's
// UpdatedAt is bumped; its status is left alone.
func (t *Ticket) NewMessage(author Author, body string, internal bool, attachments []AttachmentReference, now time.Time) (*TicketMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}
	if internal && author.Type != AuthorTypeAdmin {
		return nil, apperrors.NewForbidden("only staff can post internal notes")
	}
	if t.Status == TicketStatusClosed {
		return nil, apperrors.NewConflict("ticket is closed", map[string]any{"ticket_id": t.ID})
	}
	if !internal && !t.Status.AcceptsPublicMessages() {
		return nil, apperrors.NewConflict("ticket no longer accepts replies", map[string]any{
			"ticket_id": t.ID,
			"status":    t.Status,
		})
	}

	msg := &TicketMessage{
		TicketID:   t.ID,
		AuthorID:   author.ID,
		AuthorType: author.Type,
		Body:       body,
		Internal:   internal,
		CreatedAt:  now,
	}
	if len(attachments) > 0 {
		msg.Attachments = make([]AttachmentReference, len(attachments))
		copy(msg.Attachments, attachments)
	}
	t.Touch(now)
	return msg, nil
}

// VisibleTo reports whether a reader with the given author type may see the message.
func (m TicketMessage) VisibleTo(reader MessageAuthorType) bool {
	return !m.Internal || reader == AuthorTypeAdmin
}
