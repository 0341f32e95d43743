// Package memory holds the in-process storage driver. Every repository built
// from one Store shares a single lock, and records are deep-copied on the way
// in and out so callers never share slices or pointers with the store or with
// each other.
package memory

import (
	"sort"
	"sync"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
)

// Store is the backing state of the memory driver.
type Store struct {
	mu sync.RWMutex

	tickets     map[string]*domain.Ticket
	messages    map[string][]*domain.TicketMessage
	history     map[string][]*domain.TicketHistory
	refunds     map[string]*domain.Refund
	orders      map[string]*domain.Order
	products    map[string]*domain.Product
	agents      map[string]*domain.Agent
	messageSeq  int64
	refundOrder []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets:  make(map[string]*domain.Ticket),
		messages: make(map[string][]*domain.TicketMessage),
		history:  make(map[string][]*domain.TicketHistory),
		refunds:  make(map[string]*domain.Refund),
		orders:   make(map[string]*domain.Order),
		products: make(map[string]*domain.Product),
		agents:   make(map[string]*domain.Agent),
	}
}

// Repositories bundles every repository of the driver.
type Repositories struct {
	Tickets  repository.TicketRepository
	Messages repository.TicketMessageRepository
	History  repository.TicketHistoryRepository
	Refunds  repository.RefundRepository
	Orders   repository.OrderRepository
	Products repository.ProductRepository
	Agents   repository.AgentRepository
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Tickets:  &ticketRepository{store: s},
		Messages: &messageRepository{store: s},
		History:  &historyRepository{store: s},
		Refunds:  &refundRepository{store: s},
		Orders:   &orderRepository{store: s},
		Products: &productRepository{store: s},
		Agents:   &agentRepository{store: s},
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	limit, offset = repository.NormalizePage(limit, offset)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func sortTickets(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		if !tickets[i].UpdatedAt.Equal(tickets[j].UpdatedAt) {
			return tickets[i].UpdatedAt.After(tickets[j].UpdatedAt)
		}
		return tickets[i].ID < tickets[j].ID
	})
}
