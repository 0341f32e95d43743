package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/clock"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets  repository.TicketRepository
	messages repository.TicketMessageRepository
	history  repository.TicketHistoryRepository
	orders   repository.OrderRepository
	products repository.ProductRepository
	agents   repository.AgentRepository
	clock    clock.Clock
	events   eventPublisher
	logger   *zap.Logger
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	HistoryRepo repository.TicketHistoryRepository
	OrderRepo   repository.OrderRepository
	ProductRepo repository.ProductRepository
	AgentRepo   repository.AgentRepository
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
	OrderID     *string
	ProductID   *string
}

// AttachmentInput defines metadata of an uploaded file referenced by a message.
type AttachmentInput struct {
	StorageKey string
	FileName   string
	MimeType   string
	SizeBytes  int64
}

// MessageInput describes a reply or internal note.
type MessageInput struct {
	Body        string
	Internal    bool
	Attachments []AttachmentInput
}

// TicketListFilter describes listing filters. UserID and AssigneeID are
// honoured for admins only; other callers always see their own tickets.
type TicketListFilter struct {
	Statuses   []domain.TicketStatus
	Categories []domain.TicketCategory
	Priorities []domain.TicketPriority
	UserID     *string
	AssigneeID *string
	SearchTerm string
	Limit      int
	Offset     int
}

// TicketPatch is a partial edit; nil fields are left untouched. Setting
// ClearAssignee removes the assignee and wins over AssignedTo.
type TicketPatch struct {
	Title         *string
	Description   *string
	Category      *domain.TicketCategory
	Priority      *domain.TicketPriority
	Status        *domain.TicketStatus
	AssignedTo    *string
	ClearAssignee bool
	Comment       string
}

func (p TicketPatch) isEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil && p.Priority == nil &&
		p.Status == nil && p.AssignedTo == nil && !p.ClearAssignee
}

// TicketDetail is a ticket with the thread visible to the caller.
type TicketDetail struct {
	Ticket   *domain.Ticket
	Messages []domain.TicketMessage
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	clk := defaultClock(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
		history:  deps.HistoryRepo,
		orders:   deps.OrderRepo,
		products: deps.ProductRepo,
		agents:   deps.AgentRepo,
		clock:    clk,
		events:   eventPublisher{dispatcher: deps.Dispatcher, clock: clk},
		logger:   logger,
	}
}

// CreateTicket opens a ticket for a buyer or seller.
func (s *TicketService) CreateTicket(ctx context.Context, p domain.Principal, input TicketCreateInput) (*domain.Ticket, error) {
	if p.IsAdmin() {
		return nil, apperrors.NewForbidden("support staff cannot open tickets")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if !input.Category.IsValid() {
		details["category"] = "unknown category"
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.IsValid() {
		details["priority"] = "unknown priority"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	if input.OrderID != nil {
		order, err := s.orders.GetByID(ctx, *input.OrderID)
		if err != nil {
			return nil, mapRepoError(err, "order", map[string]any{"order_id": *input.OrderID})
		}
		if !order.InvolvesUser(p.UserID) {
			return nil, apperrors.NewForbidden("order belongs to another user")
		}
	}
	if input.ProductID != nil {
		if _, err := s.products.GetByID(ctx, *input.ProductID); err != nil {
			return nil, mapRepoError(err, "product", map[string]any{"product_id": *input.ProductID})
		}
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:          newID(),
		ExternalKey: generateTicketKey(),
		UserID:      p.UserID,
		OrderID:     input.OrderID,
		ProductID:   input.ProductID,
		Title:       title,
		Description: description,
		Category:    input.Category,
		Priority:    priority,
		Status:      domain.TicketStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, mapRepoError(err, "ticket", nil)
	}
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("user_id", p.UserID))
	s.events.publish(ctx, events.Event{
		Type:      events.EventTicketCreated,
		SubjectID: ticket.ID,
		Actor:     events.ActorFor(p),
		Payload: events.TicketCreatedPayload{
			ExternalKey: ticket.ExternalKey,
			OwnerID:     ticket.UserID,
			Category:    ticket.Category,
			Priority:    ticket.Priority,
			Title:       ticket.Title,
		},
	})
	return ticket, nil
}

// GetTicket returns a ticket and its thread. Internal notes are only
// included for admins.
func (s *TicketService) GetTicket(ctx context.Context, p domain.Principal, ticketID string) (*TicketDetail, error) {
	ticket, err := s.loadAccessible(ctx, p, ticketID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, mapRepoError(err, "ticket", nil)
	}
	reader := p.AuthorType()
	visible := make([]domain.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.VisibleTo(reader) {
			visible = append(visible, msg)
		}
	}
	return &TicketDetail{Ticket: ticket, Messages: visible}, nil
}

// ListTickets returns the caller's tickets, or every ticket for admins,
// ordered by most recent activity.
func (s *TicketService) ListTickets(ctx context.Context, p domain.Principal, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		Statuses:   filter.Statuses,
		Categories: filter.Categories,
		Priorities: filter.Priorities,
		SearchTerm: filter.SearchTerm,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	if p.IsAdmin() {
		repoFilter.UserID = filter.UserID
		repoFilter.AssigneeID = filter.AssigneeID
	} else {
		userID := p.UserID
		repoFilter.UserID = &userID
	}
	tickets, err := s.tickets.List(ctx, repoFilter)
	if err != nil {
		return nil, mapRepoError(err, "ticket", nil)
	}
	return tickets, nil
}

// AppendMessage adds a reply or internal note to the thread. The ticket's
// status never changes; only its UpdatedAt moves.
func (s *TicketService) AppendMessage(ctx context.Context, p domain.Principal, ticketID string, input MessageInput) (*domain.TicketMessage, error) {
	var msg *domain.TicketMessage
	ticket, err := s.writeTicket(ctx, ticketID,
		func(ctx context.Context) (*domain.Ticket, error) {
			return s.loadAccessible(ctx, p, ticketID)
		},
		func(ticket *domain.Ticket) (bool, error) {
			now := s.clock.Now()
			attachments := make([]domain.AttachmentReference, 0, len(input.Attachments))
			for _, att := range input.Attachments {
				if strings.TrimSpace(att.StorageKey) == "" {
					return false, apperrors.NewValidationError("attachment storage key required", nil)
				}
				attachments = append(attachments, domain.AttachmentReference{
					ID:         newID(),
					StorageKey: att.StorageKey,
					FileName:   att.FileName,
					MimeType:   att.MimeType,
					SizeBytes:  att.SizeBytes,
					CreatedAt:  now,
				})
			}
			next, err := ticket.NewMessage(p.Author(), input.Body, input.Internal, attachments, now)
			if err != nil {
				return false, err
			}
			next.ID = newID()
			msg = next
			return true, nil
		},
		func(ctx context.Context, ticket *domain.Ticket) error {
			return s.messages.Append(ctx, ticket, msg)
		},
	)
	if err != nil {
		return nil, err
	}

	s.events.publish(ctx, events.Event{
		Type:      events.EventTicketMessageAdded,
		SubjectID: ticket.ID,
		Actor:     events.ActorFor(p),
		Payload: events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			Sequence:    msg.Sequence,
			AuthorType:  msg.AuthorType,
			Internal:    msg.Internal,
			Attachments: len(msg.Attachments),
			BodyPreview: events.Preview(msg.Body),
		},
	})
	return msg, nil
}

// SetStatus moves a ticket through the workflow on behalf of an admin.
func (s *TicketService) SetStatus(ctx context.Context, p domain.Principal, ticketID string, status domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return s.transition(ctx, p, ticketID, status, comment)
}

// CloseTicket lets the owner close their own ticket.
func (s *TicketService) CloseTicket(ctx context.Context, p domain.Principal, ticketID string) (*domain.Ticket, error) {
	return s.transition(ctx, p, ticketID, domain.TicketStatusClosed, "closed by owner")
}

func (s *TicketService) transition(ctx context.Context, p domain.Principal, ticketID string, status domain.TicketStatus, comment string) (*domain.Ticket, error) {
	var oldStatus domain.TicketStatus
	var changed bool
	ticket, err := s.writeTicket(ctx, ticketID,
		func(ctx context.Context) (*domain.Ticket, error) {
			return s.loadAccessible(ctx, p, ticketID)
		},
		func(ticket *domain.Ticket) (bool, error) {
			oldStatus = ticket.Status
			var err error
			changed, err = ticket.TransitionTo(status, s.clock.Now())
			return changed, err
		},
		s.tickets.Update,
	)
	if err != nil || !changed {
		return ticket, err
	}
	s.recordChange(ctx, p, ticket, domain.ChangeTypeStatus, "status", oldStatus, ticket.Status)
	s.publishStatusChange(ctx, p, ticket, oldStatus, comment)
	return ticket, nil
}

// EditFields applies a partial admin edit. Status changes go through the
// transition table and assignee changes through the agent check; every
// changed field is recorded in the ticket history.
func (s *TicketService) EditFields(ctx context.Context, p domain.Principal, ticketID string, patch TicketPatch) (*domain.Ticket, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	var before domain.Ticket
	var changes []fieldChange
	ticket, err := s.writeTicket(ctx, ticketID, func(ctx context.Context) (*domain.Ticket, error) {
		return s.loadTicket(ctx, ticketID)
	}, func(ticket *domain.Ticket) (bool, error) {
		if patch.isEmpty() {
			return false, nil
		}
		var newAssignee *string
		assigneeTouched := patch.ClearAssignee || patch.AssignedTo != nil
		if !patch.ClearAssignee && patch.AssignedTo != nil {
			agent, err := resolveAgent(ctx, s.agents, *patch.AssignedTo)
			if err != nil {
				return false, err
			}
			newAssignee = &agent.ID
		}

		now := s.clock.Now()
		before = *ticket
		changes = changes[:0]

		if patch.Status != nil {
			changed, err := ticket.TransitionTo(*patch.Status, now)
			if err != nil {
				return false, err
			}
			if changed {
				changes = append(changes, fieldChange{domain.ChangeTypeStatus, "status", before.Status, ticket.Status})
			}
		}
		if patch.Title != nil {
			if title := strings.TrimSpace(*patch.Title); title != ticket.Title {
				changes = append(changes, fieldChange{domain.ChangeTypeTitle, "title", ticket.Title, title})
				ticket.Title = title
			}
		}
		if patch.Description != nil {
			if description := strings.TrimSpace(*patch.Description); description != ticket.Description {
				changes = append(changes, fieldChange{domain.ChangeTypeDescription, "description", ticket.Description, description})
				ticket.Description = description
			}
		}
		if patch.Category != nil && *patch.Category != ticket.Category {
			changes = append(changes, fieldChange{domain.ChangeTypeCategory, "category", ticket.Category, *patch.Category})
			ticket.Category = *patch.Category
		}
		if patch.Priority != nil && *patch.Priority != ticket.Priority {
			changes = append(changes, fieldChange{domain.ChangeTypePriority, "priority", ticket.Priority, *patch.Priority})
			ticket.Priority = *patch.Priority
		}
		if assigneeTouched && ticket.Assign(newAssignee, now) {
			changes = append(changes, fieldChange{domain.ChangeTypeAssignee, "assigned_to", before.AssignedTo, ticket.AssignedTo})
		}
		if len(changes) == 0 {
			return false, nil
		}
		ticket.Touch(now)
		return true, nil
	}, s.tickets.Update)
	if err != nil || len(changes) == 0 {
		return ticket, err
	}

	fields := make([]string, 0, len(changes))
	for _, change := range changes {
		s.recordChange(ctx, p, ticket, change.changeType, change.field, change.oldValue, change.newValue)
		fields = append(fields, change.field)
		switch change.changeType {
		case domain.ChangeTypeStatus:
			s.publishStatusChange(ctx, p, ticket, before.Status, patch.Comment)
		case domain.ChangeTypeAssignee:
			s.publishAssignment(ctx, p, ticket.ID, before.AssignedTo, ticket.AssignedTo)
		}
	}
	s.events.publish(ctx, events.Event{
		Type:      events.EventTicketUpdated,
		SubjectID: ticket.ID,
		Actor:     events.ActorFor(p),
		Payload:   events.TicketUpdatedPayload{Fields: fields},
	})
	return ticket, nil
}

// ListHistory returns the audit trail. Owners only see status and assignee changes.
func (s *TicketService) ListHistory(ctx context.Context, p domain.Principal, ticketID string) ([]domain.TicketHistory, error) {
	ticket, err := s.loadAccessible(ctx, p, ticketID)
	if err != nil {
		return nil, err
	}
	var types []domain.TicketChangeType
	if !p.IsAdmin() {
		types = domain.OwnerVisibleChanges
	}
	history, err := s.history.ListByTicket(ctx, ticket.ID, types...)
	if err != nil {
		return nil, mapRepoError(err, "ticket", nil)
	}
	return history, nil
}

// maxTicketWriteAttempts bounds how often a write that lost a race with
// another write to the same ticket is reloaded and replayed.
const maxTicketWriteAttempts = 3

// writeTicket loads a ticket, lets apply change it and stores it with save.
// When save reports that another write landed after the load, the ticket is
// reloaded and apply runs again, so every rule is checked against the stored
// state. apply returning false skips the write.
func (s *TicketService) writeTicket(
	ctx context.Context,
	ticketID string,
	load func(context.Context) (*domain.Ticket, error),
	apply func(*domain.Ticket) (bool, error),
	save func(context.Context, *domain.Ticket) error,
) (*domain.Ticket, error) {
	details := map[string]any{"ticket_id": ticketID}
	for attempt := 1; ; attempt++ {
		ticket, err := load(ctx)
		if err != nil {
			return nil, err
		}
		changed, err := apply(ticket)
		if err != nil {
			return nil, err
		}
		if !changed {
			return ticket, nil
		}
		err = save(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, repository.ErrStaleState) {
			return nil, mapRepoError(err, "ticket", details)
		}
		if attempt == maxTicketWriteAttempts {
			return nil, apperrors.NewConflict("ticket changed concurrently", details)
		}
		s.logger.Debug("ticket changed during write, reloading",
			zap.String("ticket_id", ticketID), zap.Int("attempt", attempt))
	}
}

type fieldChange struct {
	changeType domain.TicketChangeType
	field      string
	oldValue   any
	newValue   any
}

func validatePatch(patch TicketPatch) error {
	details := map[string]any{}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		details["title"] = "must not be empty"
	}
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		details["description"] = "must not be empty"
	}
	if patch.Category != nil && !patch.Category.IsValid() {
		details["category"] = "unknown category"
	}
	if patch.Priority != nil && !patch.Priority.IsValid() {
		details["priority"] = "unknown priority"
	}
	if patch.Status != nil && !patch.Status.IsValid() {
		details["status"] = "unknown status"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket update", details)
	}
	return nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// loadAccessible fetches a ticket the caller owns, or any ticket for admins.
func (s *TicketService) loadAccessible(ctx context.Context, p domain.Principal, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !ticket.IsOwnedBy(p.UserID) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return ticket, nil
}

// recordChange writes a history entry. The ticket change is already stored,
// so a failure here is logged rather than returned.
func (s *TicketService) recordChange(ctx context.Context, p domain.Principal, ticket *domain.Ticket, changeType domain.TicketChangeType, field string, oldValue, newValue any) {
	entry := &domain.TicketHistory{
		ID:            newID(),
		TicketID:      ticket.ID,
		ChangedByType: p.AuthorType(),
		ChangedByID:   p.UserID,
		ChangeType:    changeType,
		OldValue:      map[string]any{field: oldValue},
		NewValue:      map[string]any{field: newValue},
		CreatedAt:     ticket.UpdatedAt,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Error("record ticket history",
			zap.String("ticket_id", ticket.ID),
			zap.String("change_type", string(changeType)),
			zap.Error(err))
	}
}

func (s *TicketService) publishStatusChange(ctx context.Context, p domain.Principal, ticket *domain.Ticket, oldStatus domain.TicketStatus, comment string) {
	s.events.publish(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		SubjectID: ticket.ID,
		Actor:     events.ActorFor(p),
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			Comment:   comment,
		},
	})
}

func (s *TicketService) publishAssignment(ctx context.Context, p domain.Principal, ticketID string, oldAgent, newAgent *string) {
	s.events.publish(ctx, events.Event{
		Type:      events.EventTicketAssigned,
		SubjectID: ticketID,
		Actor:     events.ActorFor(p),
		Payload:   events.TicketAssignedPayload{OldAgentID: oldAgent, NewAgentID: newAgent},
	})
}
