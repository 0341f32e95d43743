package domain

import (
	"strings"
	"time"

	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen                 TicketStatus = "OPEN"
	TicketStatusInProgress           TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingForUser       TicketStatus = "WAITING_FOR_USER"
	TicketStatusWaitingForThirdParty TicketStatus = "WAITING_FOR_THIRD_PARTY"
	TicketStatusResolved             TicketStatus = "RESOLVED"
	TicketStatusClosed               TicketStatus = "CLOSED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// TicketCategory classifies what the ticket is about.
type TicketCategory string

const (
	CategoryTechnicalIssue  TicketCategory = "TECHNICAL_ISSUE"
	CategoryPaymentProblem  TicketCategory = "PAYMENT_PROBLEM"
	CategoryOrderIssue      TicketCategory = "ORDER_ISSUE"
	CategoryReturnRequest   TicketCategory = "RETURN_REQUEST"
	CategoryAccountIssue    TicketCategory = "ACCOUNT_ISSUE"
	CategoryProductIssue    TicketCategory = "PRODUCT_ISSUE"
	CategoryShippingProblem TicketCategory = "SHIPPING_PROBLEM"
	CategoryGeneralInquiry  TicketCategory = "GENERAL_INQUIRY"
	CategoryFeatureRequest  TicketCategory = "FEATURE_REQUEST"
	CategoryBugReport       TicketCategory = "BUG_REPORT"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          string
	ExternalKey string
	UserID      string
	OrderID     *string
	ProductID   *string
	AssignedTo  *string
	Title       string
	Description string
	Category    TicketCategory
	Priority    TicketPriority
	Status      TicketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	ClosedAt    *time.Time
	// Version counts stored writes. Repositories only accept a write whose
	// Version matches the stored row and bump it on success.
	Version int64
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:                 {TicketStatusInProgress, TicketStatusWaitingForUser, TicketStatusWaitingForThirdParty, TicketStatusResolved, TicketStatusClosed},
	TicketStatusInProgress:           {TicketStatusWaitingForUser, TicketStatusWaitingForThirdParty, TicketStatusResolved, TicketStatusClosed},
	TicketStatusWaitingForUser:       {TicketStatusInProgress, TicketStatusWaitingForThirdParty, TicketStatusResolved, TicketStatusClosed},
	TicketStatusWaitingForThirdParty: {TicketStatusInProgress, TicketStatusWaitingForUser, TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:             {TicketStatusClosed, TicketStatusInProgress},
	TicketStatusClosed:               {},
}

// IsValid reports whether s is a known status.
func (s TicketStatus) IsValid() bool {
	_, ok := ticketTransitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s TicketStatus) IsTerminal() bool {
	return s.IsValid() && len(ticketTransitions[s]) == 0
}

// AcceptsPublicMessages reports whether customer-visible replies may still be posted.
func (s TicketStatus) AcceptsPublicMessages() bool {
	return s != TicketStatusResolved && s != TicketStatusClosed
}

// CanTransitionTo consults the transition table.
func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, candidate := range ticketTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseTicketStatus validates a raw status value.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	s := TicketStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", apperrors.NewValidationError("unknown ticket status", map[string]any{"status": raw})
	}
	return s, nil
}

// StatusFilterAll selects tickets in every status.
const StatusFilterAll = "all"

// ParseTicketStatusFilter turns a listing filter into the statuses to match.
// Empty input and "all" select every status (nil); otherwise the value is a
// comma-separated list of statuses.
func ParseTicketStatusFilter(raw string) ([]TicketStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, StatusFilterAll) {
		return nil, nil
	}
	var statuses []TicketStatus
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseTicketStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func (p TicketPriority) IsValid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// ParseTicketPriority validates a raw priority value.
func ParseTicketPriority(raw string) (TicketPriority, error) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.IsValid() {
		return "", apperrors.NewValidationError("unknown ticket priority", map[string]any{"priority": raw})
	}
	return p, nil
}

func (c TicketCategory) IsValid() bool {
	switch c {
	case CategoryTechnicalIssue, CategoryPaymentProblem, CategoryOrderIssue, CategoryReturnRequest,
		CategoryAccountIssue, CategoryProductIssue, CategoryShippingProblem, CategoryGeneralInquiry,
		CategoryFeatureRequest, CategoryBugReport:
		return true
	}
	return false
}

// ParseTicketCategory validates a raw category value.
func ParseTicketCategory(raw string) (TicketCategory, error) {
	c := TicketCategory(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.IsValid() {
		return "", apperrors.NewValidationError("unknown ticket category", map[string]any{"category": raw})
	}
	return c, nil
}

// TransitionTo moves the ticket through the transition table. Re-applying the
// current status is a no-op and reports changed=false.
func (t *Ticket) TransitionTo(next TicketStatus, now time.Time) (changed bool, err error) {
	if !next.IsValid() {
		return false, apperrors.NewValidationError("unknown ticket status", map[string]any{"status": next})
	}
	if t.Status == next {
		return false, nil
	}
	if !t.Status.CanTransitionTo(next) {
		return false, apperrors.NewInvalidTransition("ticket", string(t.Status), string(next))
	}
	t.Status = next
	switch next {
	case TicketStatusResolved:
		t.ResolvedAt = &now
	case TicketStatusClosed:
		t.ClosedAt = &now
	default:
		t.ResolvedAt = nil
	}
	t.UpdatedAt = now
	return true, nil
}

// Assign sets or clears the assigned agent.
func (t *Ticket) Assign(agentID *string, now time.Time) bool {
	if sameOptional(t.AssignedTo, agentID) {
		return false
	}
	if agentID == nil {
		t.AssignedTo = nil
	} else {
		id := *agentID
		t.AssignedTo = &id
	}
	t.UpdatedAt = now
	return true
}

// Touch records a mutation that does not change ticket fields, such as a new message.
func (t *Ticket) Touch(now time.Time) {
	t.UpdatedAt = now
}

// IsOwnedBy reports whether userID opened the ticket.
func (t *Ticket) IsOwnedBy(userID string) bool {
	return t.UserID == userID
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
