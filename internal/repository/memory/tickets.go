package memory

import (
	"context"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
)

type ticketRepository struct {
	store *Store
}

func (r *ticketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticket.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range s.tickets {
		if existing.ExternalKey == ticket.ExternalKey {
			return repository.ErrDuplicate
		}
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *ticketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != ticket.Version {
		return repository.ErrStaleState
	}
	ticket.Version++
	s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *ticketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTicket(ticket), nil
}

func (r *ticketRepository) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s := r.store
	s.mu.RLock()
	matched := make([]domain.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if filter.Matches(ticket) {
			matched = append(matched, *cloneTicket(ticket))
		}
	}
	s.mu.RUnlock()

	sortTickets(matched)
	return paginate(matched, filter.Limit, filter.Offset), nil
}

type messageRepository struct {
	store *Store
}

func (r *messageRepository) Append(_ context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tickets[ticket.ID]
	if !ok || msg.TicketID != ticket.ID {
		return repository.ErrNotFound
	}
	if stored.Version != ticket.Version {
		return repository.ErrStaleState
	}
	ticket.Version++
	stored.UpdatedAt = ticket.UpdatedAt
	stored.Version = ticket.Version
	s.messageSeq++
	msg.Sequence = s.messageSeq
	for i := range msg.Attachments {
		msg.Attachments[i].MessageID = msg.ID
	}
	s.messages[msg.TicketID] = append(s.messages[msg.TicketID], cloneMessage(msg))
	return nil
}

func (r *messageRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[ticketID]
	result := make([]domain.TicketMessage, 0, len(stored))
	for _, msg := range stored {
		result = append(result, *cloneMessage(msg))
	}
	return result, nil
}

type historyRepository struct {
	store *Store
}

func (r *historyRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[history.TicketID] = append(s.history[history.TicketID], cloneHistory(history))
	return nil
}

func (r *historyRepository) ListByTicket(_ context.Context, ticketID string, types ...domain.TicketChangeType) ([]domain.TicketHistory, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.history[ticketID]
	result := make([]domain.TicketHistory, 0, len(stored))
	for _, entry := range stored {
		if entry.ChangeType.In(types) {
			result = append(result, *cloneHistory(entry))
		}
	}
	return result, nil
}
