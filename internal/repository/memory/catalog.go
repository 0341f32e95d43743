package memory

import (
	"context"
	"sort"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
)

type orderRepository struct {
	store *Store
}

// Create ignores orders that already exist so seeding can run repeatedly.
func (r *orderRepository) Create(_ context.Context, order *domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return nil
	}
	for _, existing := range s.orders {
		if existing.PaymentIntentID == order.PaymentIntentID {
			return repository.ErrDuplicate
		}
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepository) GetByPaymentIntent(_ context.Context, paymentIntentID string) (*domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, order := range s.orders {
		if order.PaymentIntentID == paymentIntentID {
			return cloneOrder(order), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *orderRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	matched := []domain.Order{}
	for _, order := range s.orders {
		if order.InvolvesUser(userID) {
			matched = append(matched, *cloneOrder(order))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, limit, offset), nil
}

type productRepository struct {
	store *Store
}

func (r *productRepository) Create(_ context.Context, product *domain.Product) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		c := *product
		s.products[product.ID] = &c
	}
	return nil
}

func (r *productRepository) GetByID(_ context.Context, id string) (*domain.Product, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *product
	return &c, nil
}

type agentRepository struct {
	store *Store
}

func (r *agentRepository) Create(_ context.Context, agent *domain.Agent) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; !ok {
		c := *agent
		s.agents[agent.ID] = &c
	}
	return nil
}

func (r *agentRepository) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *agent
	return &c, nil
}

func (r *agentRepository) List(_ context.Context, filter repository.AgentFilter) ([]domain.Agent, error) {
	s := r.store
	s.mu.RLock()
	matched := []domain.Agent{}
	for _, agent := range s.agents {
		if filter.Active != nil && agent.Active != *filter.Active {
			continue
		}
		matched = append(matched, *agent)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}
