package memory

import (
	"maps"
	"time"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	c.OrderID = cloneString(t.OrderID)
	c.ProductID = cloneString(t.ProductID)
	c.AssignedTo = cloneString(t.AssignedTo)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	return &c
}

func cloneMessage(m *domain.TicketMessage) *domain.TicketMessage {
	c := *m
	if m.Attachments != nil {
		c.Attachments = make([]domain.AttachmentReference, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	return &c
}

func cloneHistory(h *domain.TicketHistory) *domain.TicketHistory {
	c := *h
	c.OldValue = maps.Clone(h.OldValue)
	c.NewValue = maps.Clone(h.NewValue)
	return &c
}

func cloneRefund(r *domain.Refund) *domain.Refund {
	c := *r
	if r.Images != nil {
		c.Images = append([]string(nil), r.Images...)
	}
	c.ProcessedBy = cloneString(r.ProcessedBy)
	c.ProcessedAt = cloneTime(r.ProcessedAt)
	return &c
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]domain.OrderItem(nil), o.Items...)
	}
	return &c
}
