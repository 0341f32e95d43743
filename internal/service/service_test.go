package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/marketplace-support/internal/clock"
	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/events"
	"github.com/spec-kit/marketplace-support/internal/persistence"
	"github.com/spec-kit/marketplace-support/internal/repository/memory"
)

var (
	start  = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	buyer  = domain.Principal{UserID: "buyer-1", Role: domain.RoleBuyer}
	other  = domain.Principal{UserID: "buyer-2", Role: domain.RoleBuyer}
	seller = domain.Principal{UserID: "seller-1", Role: domain.RoleSeller}
	admin  = domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
)

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) handle(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturedEvents) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	clock       *clock.FakeClock
	repos       memory.Repositories
	tickets     *TicketService
	assignments *AssignmentService
	refunds     *RefundService
	orders      *OrderService
	events      *capturedEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.Fake(start)
	repos := memory.NewStore().Repositories()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	captured := &capturedEvents{}
	events.SubscribeAll(dispatcher, captured.handle)

	tickets := NewTicketService(TicketDependencies{
		TicketRepo:  repos.Tickets,
		MessageRepo: repos.Messages,
		HistoryRepo: repos.History,
		OrderRepo:   repos.Orders,
		ProductRepo: repos.Products,
		AgentRepo:   repos.Agents,
		Dispatcher:  dispatcher,
		Clock:       clk,
	})
	f := &fixture{
		clock:       clk,
		repos:       repos,
		tickets:     tickets,
		assignments: NewAssignmentService(tickets, repos.Agents),
		refunds: NewRefundService(RefundDependencies{
			RefundRepo:  repos.Refunds,
			OrderRepo:   repos.Orders,
			Idempotency: persistence.NewMemoryIdempotencyStore(),
			Dispatcher:  dispatcher,
			Clock:       clk,
		}),
		orders: NewOrderService(repos.Orders),
		events: captured,
	}
	f.seed(t)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.repos.Orders.Create(ctx, &domain.Order{
		ID:              "order-1",
		UserID:          buyer.UserID,
		SellerID:        seller.UserID,
		PaymentIntentID: "pi_123",
		Status:          domain.OrderStatusDelivered,
		Currency:        "usd",
		TotalAmount:     5000,
		Items:           []domain.OrderItem{{ProductID: "prod-1", Name: "Desk lamp", Quantity: 2, UnitPrice: 2500}},
		CreatedAt:       start.Add(-48 * time.Hour),
	}))
	require.NoError(t, f.repos.Products.Create(ctx, &domain.Product{
		ID: "prod-1", SellerID: seller.UserID, Name: "Desk lamp", Price: 2500, Currency: "usd",
	}))
	require.NoError(t, f.repos.Agents.Create(ctx, &domain.Agent{ID: "agent-1", Name: "Ada", Active: true}))
	require.NoError(t, f.repos.Agents.Create(ctx, &domain.Agent{ID: "agent-2", Name: "Bob", Active: false}))
}

func (f *fixture) openTicket(t *testing.T, p domain.Principal, title string) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), p, TicketCreateInput{
		Title:       title,
		Description: "Description of " + title,
		Category:    domain.CategoryOrderIssue,
	})
	require.NoError(t, err)
	return ticket
}

func ptr[T any](v T) *T {
	return &v
}
