package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.tickets.CreateTicket(ctx, buyer, TicketCreateInput{
		Title:       "  Lamp arrived broken ",
		Description: "The shade is cracked",
		Category:    domain.CategoryReturnRequest,
		OrderID:     ptr("order-1"),
		ProductID:   ptr("prod-1"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Regexp(t, `^TCK-[0-9A-F]{8}$`, ticket.ExternalKey)
	assert.Equal(t, "Lamp arrived broken", ticket.Title)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, start, ticket.CreatedAt)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.events.types())

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Title, stored.Title)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		p     domain.Principal
		input TicketCreateInput
		code  string
	}{
		{"blank title", buyer, TicketCreateInput{Title: " ", Description: "d", Category: domain.CategoryBugReport}, apperrors.CodeValidation},
		{"unknown category", buyer, TicketCreateInput{Title: "t", Description: "d", Category: "COMPLAINT"}, apperrors.CodeValidation},
		{"unknown priority", buyer, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryBugReport, Priority: "P0"}, apperrors.CodeValidation},
		{"admin cannot open", admin, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryBugReport}, apperrors.CodeForbidden},
		{"unknown order", buyer, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryOrderIssue, OrderID: ptr("order-x")}, apperrors.CodeNotFound},
		{"foreign order", other, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryOrderIssue, OrderID: ptr("order-1")}, apperrors.CodeForbidden},
		{"unknown product", buyer, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryProductIssue, ProductID: ptr("prod-x")}, apperrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tickets.CreateTicket(ctx, tt.p, tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	all, err := f.repos.Tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSellerCanOpenTicketForSoldOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.tickets.CreateTicket(context.Background(), seller, TicketCreateInput{
		Title: "Buyer unreachable", Description: "Address bounced", Category: domain.CategoryShippingProblem, OrderID: ptr("order-1"),
	})
	require.NoError(t, err)
}

func TestAppendMessageIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Where is my parcel")

	bodies := []string{"first", "second", "third"}
	for i, body := range bodies {
		f.clock.Advance(time.Minute)
		_, err := f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: body})
		require.NoError(t, err)

		detail, err := f.tickets.GetTicket(ctx, buyer, ticket.ID)
		require.NoError(t, err)
		require.Len(t, detail.Messages, i+1)
		for j := 0; j <= i; j++ {
			assert.Equal(t, bodies[j], detail.Messages[j].Body)
		}
	}

	detail, err := f.tickets.GetTicket(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, detail.Ticket.Status, "messages never change status")
	assert.Equal(t, start.Add(3*time.Minute), detail.Ticket.UpdatedAt)
	assert.Less(t, detail.Messages[0].Sequence, detail.Messages[2].Sequence)
}

func TestAppendMessageRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Refund question")

	_, err := f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: "   "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: "sneaky", Internal: true})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.tickets.AppendMessage(ctx, other, ticket.ID, MessageInput{Body: "not mine"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.tickets.AppendMessage(ctx, buyer, "missing", MessageInput{Body: "hello"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusResolved, "")
	require.NoError(t, err)

	_, err = f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: "one more thing"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
	_, err = f.tickets.AppendMessage(ctx, admin, ticket.ID, MessageInput{Body: "follow up internally", Internal: true})
	require.NoError(t, err)

	_, err = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusClosed, "")
	require.NoError(t, err)
	_, err = f.tickets.AppendMessage(ctx, admin, ticket.ID, MessageInput{Body: "after close", Internal: true})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestInternalNotesHiddenFromOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Charged twice")

	_, err := f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: "I was charged twice"})
	require.NoError(t, err)
	_, err = f.tickets.AppendMessage(ctx, admin, ticket.ID, MessageInput{Body: "check processor logs", Internal: true})
	require.NoError(t, err)
	_, err = f.tickets.AppendMessage(ctx, admin, ticket.ID, MessageInput{
		Body:        "Please send a screenshot",
		Attachments: []AttachmentInput{{StorageKey: "uploads/guide.pdf", FileName: "guide.pdf", MimeType: "application/pdf", SizeBytes: 42}},
	})
	require.NoError(t, err)

	owner, err := f.tickets.GetTicket(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	require.Len(t, owner.Messages, 2)
	for _, msg := range owner.Messages {
		assert.False(t, msg.Internal)
	}
	require.Len(t, owner.Messages[1].Attachments, 1)
	assert.Equal(t, "uploads/guide.pdf", owner.Messages[1].Attachments[0].StorageKey)

	staff, err := f.tickets.GetTicket(ctx, admin, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, staff.Messages, 3)
	assert.Equal(t, domain.AuthorTypeAdmin, staff.Messages[1].AuthorType)
}

func TestTicketsNeverShareThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.openTicket(t, buyer, "First")
	b := f.openTicket(t, buyer, "Second")

	_, err := f.tickets.AppendMessage(ctx, buyer, a.ID, MessageInput{Body: "only on a"})
	require.NoError(t, err)

	detailA, err := f.tickets.GetTicket(ctx, buyer, a.ID)
	require.NoError(t, err)
	detailB, err := f.tickets.GetTicket(ctx, buyer, b.ID)
	require.NoError(t, err)
	assert.Len(t, detailA.Messages, 1)
	assert.Empty(t, detailB.Messages)
}

func TestSetStatusOpenToInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Status check")

	f.clock.Advance(5 * time.Minute)
	updated, err := f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusInProgress, "picked up")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	assert.NotEqual(t, ticket.UpdatedAt, updated.UpdatedAt)
	assert.Equal(t, start.Add(5*time.Minute), updated.UpdatedAt)

	history, err := f.tickets.ListHistory(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChangeTypeStatus, history[0].ChangeType)
	assert.Equal(t, domain.TicketStatusOpen, history[0].OldValue["status"])
	assert.Equal(t, domain.TicketStatusInProgress, history[0].NewValue["status"])
	assert.Contains(t, f.events.types(), events.EventTicketStatusChanged)
}

func TestSetStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Rules")

	_, err := f.tickets.SetStatus(ctx, buyer, ticket.ID, domain.TicketStatusResolved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	f.clock.Advance(time.Minute)
	same, err := f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusOpen, "")
	require.NoError(t, err)
	assert.Equal(t, start, same.UpdatedAt, "same status is a no-op")

	_, err = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusClosed, "")
	require.NoError(t, err)
	_, err = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusInProgress, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)
}

func TestCloseTicketByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Never mind")

	_, err := f.tickets.CloseTicket(ctx, other, ticket.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	closed, err := f.tickets.CloseTicket(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)

	again, err := f.tickets.CloseTicket(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, again.Status)
}

func TestListTicketsStatusFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.openTicket(t, buyer, "Open one")
	f.clock.Advance(time.Minute)
	progress := f.openTicket(t, buyer, "In progress one")
	f.clock.Advance(time.Minute)
	_, err := f.tickets.SetStatus(ctx, admin, progress.ID, domain.TicketStatusInProgress, "")
	require.NoError(t, err)
	f.openTicket(t, other, "Someone else")

	mine, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 2, "status all returns every ticket of the owner")
	assert.Equal(t, progress.ID, mine[0].ID, "most recently updated first")

	statuses, err := domain.ParseTicketStatusFilter("open")
	require.NoError(t, err)
	onlyOpen, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{Statuses: statuses})
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, open.ID, onlyOpen[0].ID)

	everything, err := f.tickets.ListTickets(ctx, admin, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, everything, 3)

	forged, err := f.tickets.ListTickets(ctx, other, TicketListFilter{UserID: ptr(buyer.UserID)})
	require.NoError(t, err)
	require.Len(t, forged, 1, "owner filter is ignored for non-admins")
	assert.Equal(t, other.UserID, forged[0].UserID)
}

func TestListTicketsSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tickets.CreateTicket(ctx, buyer, TicketCreateInput{
		Title: "Broken LAMP", Description: "arrived in pieces", Category: domain.CategoryProductIssue,
	})
	require.NoError(t, err)
	_, err = f.tickets.CreateTicket(ctx, buyer, TicketCreateInput{
		Title: "Billing", Description: "The lamp invoice is wrong", Category: domain.CategoryPaymentProblem,
	})
	require.NoError(t, err)
	_, err = f.tickets.CreateTicket(ctx, buyer, TicketCreateInput{
		Title: "Account", Description: "cannot log in", Category: domain.CategoryAccountIssue,
	})
	require.NoError(t, err)

	found, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{SearchTerm: "Lamp"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	byCategoryName, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{SearchTerm: "payment"})
	require.NoError(t, err)
	assert.Empty(t, byCategoryName, "search only looks at title and description")
}

func TestListTicketsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		f.clock.Advance(time.Second)
		f.openTicket(t, buyer, fmt.Sprintf("Ticket %02d", i))
	}

	first, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{})
	require.NoError(t, err)
	assert.Len(t, first, 20)
	assert.Equal(t, "Ticket 24", first[0].Title)

	rest, err := f.tickets.ListTickets(ctx, buyer, TicketListFilter{Offset: 20})
	require.NoError(t, err)
	assert.Len(t, rest, 5)
}

func TestEditFieldsPartialPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Original title")

	f.clock.Advance(time.Minute)
	updated, err := f.tickets.EditFields(ctx, admin, ticket.ID, TicketPatch{
		Title:      ptr("Clarified title"),
		Priority:   ptr(domain.TicketPriorityUrgent),
		Status:     ptr(domain.TicketStatusWaitingForUser),
		AssignedTo: ptr("agent-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Clarified title", updated.Title)
	assert.Equal(t, ticket.Description, updated.Description)
	assert.Equal(t, domain.CategoryOrderIssue, updated.Category)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)
	assert.Equal(t, domain.TicketStatusWaitingForUser, updated.Status)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, "agent-1", *updated.AssignedTo)
	assert.Equal(t, start.Add(time.Minute), updated.UpdatedAt)

	adminHistory, err := f.tickets.ListHistory(ctx, admin, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, adminHistory, 4)

	ownerHistory, err := f.tickets.ListHistory(ctx, buyer, ticket.ID)
	require.NoError(t, err)
	require.Len(t, ownerHistory, 2)
	for _, entry := range ownerHistory {
		assert.True(t, entry.VisibleToOwner())
	}
	assert.Contains(t, f.events.types(), events.EventTicketUpdated)
	assert.Contains(t, f.events.types(), events.EventTicketAssigned)
}

func TestEditFieldsRejectsWholePatchOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Keep me")

	_, err := f.tickets.EditFields(ctx, admin, ticket.ID, TicketPatch{Title: ptr("")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.tickets.EditFields(ctx, admin, ticket.ID, TicketPatch{Title: ptr("New"), AssignedTo: ptr("agent-2")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "inactive agent")

	_, err = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusClosed, "")
	require.NoError(t, err)
	_, err = f.tickets.EditFields(ctx, admin, ticket.ID, TicketPatch{Title: ptr("New"), Status: ptr(domain.TicketStatusOpen)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keep me", stored.Title)

	_, err = f.tickets.EditFields(ctx, buyer, ticket.ID, TicketPatch{Title: ptr("mine")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestAssignAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Needs an owner")

	assigned, err := f.assignments.AssignAgent(ctx, admin, ticket.ID, ptr("agent-1"))
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedTo)
	assert.Equal(t, "agent-1", *assigned.AssignedTo)

	_, err = f.assignments.AssignAgent(ctx, admin, ticket.ID, ptr("agent-404"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.assignments.AssignAgent(ctx, buyer, ticket.ID, ptr("agent-1"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	unassigned, err := f.assignments.AssignAgent(ctx, admin, ticket.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, unassigned.AssignedTo)

	agents, err := f.assignments.ListAgents(ctx, admin, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].ID)
}

type mockTicketRepo struct {
	mock.Mock
}

func (m *mockTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *mockTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *mockTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	args := m.Called(ctx, id)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTicketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	args := m.Called(ctx, filter)
	tickets, _ := args.Get(0).([]domain.Ticket)
	return tickets, args.Error(1)
}

func TestTicketServiceMapsStorageFailures(t *testing.T) {
	repo := new(mockTicketRepo)
	svc := NewTicketService(TicketDependencies{TicketRepo: repo})
	ctx := context.Background()

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Ticket")).Return(fmt.Errorf("connection reset"))
	_, err := svc.CreateTicket(ctx, buyer, TicketCreateInput{Title: "t", Description: "d", Category: domain.CategoryBugReport})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))

	repo.On("GetByID", mock.Anything, "gone").Return(nil, repository.ErrNotFound)
	_, err = svc.SetStatus(ctx, admin, "gone", domain.TicketStatusResolved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	repo.AssertExpectations(t)
}

// interleavingTicketRepo runs onRead right after a ticket is read, which
// places a competing write between a service's read and its write.
type interleavingTicketRepo struct {
	repository.TicketRepository
	mu     sync.Mutex
	onRead func()
	reads  int
}

func (r *interleavingTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := r.TicketRepository.GetByID(ctx, id)
	r.mu.Lock()
	hook := r.onRead
	r.reads++
	r.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return ticket, err
}

func (r *interleavingTicketRepo) interleaveOnce(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRead = func() {
		r.mu.Lock()
		r.onRead = nil
		r.mu.Unlock()
		fn()
	}
}

func (f *fixture) serviceWithTickets(repo repository.TicketRepository) *TicketService {
	return NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		MessageRepo: f.repos.Messages,
		HistoryRepo: f.repos.History,
		OrderRepo:   f.repos.Orders,
		ProductRepo: f.repos.Products,
		AgentRepo:   f.repos.Agents,
		Clock:       f.clock,
	})
}

func TestAppendMessageLosesToConcurrentClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Parcel lost")
	repo := &interleavingTicketRepo{TicketRepository: f.repos.Tickets}
	svc := f.serviceWithTickets(repo)

	repo.interleaveOnce(func() {
		_, err := f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusClosed, "duplicate")
		require.NoError(t, err)
	})
	_, err := svc.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: "any news?"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "got %v", err)

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	assert.NotNil(t, stored.ClosedAt)
	thread, err := f.repos.Messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, thread)
}

func TestEditFieldsReappliedOverConcurrentStatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Wrong colour")
	repo := &interleavingTicketRepo{TicketRepository: f.repos.Tickets}
	svc := f.serviceWithTickets(repo)

	repo.interleaveOnce(func() {
		_, err := f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusResolved, "")
		require.NoError(t, err)
	})
	_, err := svc.EditFields(ctx, admin, ticket.ID, TicketPatch{Title: ptr("Wrong colour delivered")})
	require.NoError(t, err)

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, stored.Status)
	assert.Equal(t, "Wrong colour delivered", stored.Title)
	assert.Equal(t, 2, repo.reads)
}

func TestStatusEditRecheckedAfterConcurrentClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Charged twice")
	repo := &interleavingTicketRepo{TicketRepository: f.repos.Tickets}
	svc := f.serviceWithTickets(repo)

	repo.interleaveOnce(func() {
		_, err := f.tickets.CloseTicket(ctx, buyer, ticket.ID)
		require.NoError(t, err)
	})
	_, err := svc.EditFields(ctx, admin, ticket.ID, TicketPatch{Status: ptr(domain.TicketStatusInProgress)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition), "got %v", err)

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	history, err := f.repos.History.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "CLOSED", fmt.Sprint(history[0].NewValue["status"]))
}

func TestTicketWriteGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Busy ticket")
	repo := &interleavingTicketRepo{TicketRepository: f.repos.Tickets}
	repo.onRead = func() {
		current, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
		require.NoError(t, err)
		current.Priority = domain.TicketPriorityHigh
		require.NoError(t, f.repos.Tickets.Update(ctx, current))
	}
	svc := f.serviceWithTickets(repo)

	_, err := svc.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusInProgress, "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "got %v", err)
	assert.Equal(t, maxTicketWriteAttempts, repo.reads)

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
}

func TestConcurrentRepliesAndCloseKeepTicketClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.openTicket(t, buyer, "Late delivery")

	var wg sync.WaitGroup
	replies := make([]error, 16)
	var closeErr error
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, replies[i] = f.tickets.AppendMessage(ctx, buyer, ticket.ID, MessageInput{Body: fmt.Sprintf("reply %d", i)})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, closeErr = f.tickets.SetStatus(ctx, admin, ticket.ID, domain.TicketStatusClosed, "")
			if !apperrors.HasCode(closeErr, apperrors.CodeConflict) {
				return
			}
		}
	}()
	wg.Wait()

	require.NoError(t, closeErr)
	accepted := 0
	for _, err := range replies {
		if err == nil {
			accepted++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict), "got %v", err)
	}

	stored, err := f.repos.Tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	thread, err := f.repos.Messages.ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, thread, accepted)
}
