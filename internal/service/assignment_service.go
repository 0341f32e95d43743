package service

import (
	"context"
	"strings"

	"github.com/spec-kit/marketplace-support/internal/domain"
	"github.com/spec-kit/marketplace-support/internal/repository"
	apperrors "github.com/spec-kit/marketplace-support/pkg/util/errorutil"
)

// AssignmentService handles ticket assignment and the agent roster.
type AssignmentService struct {
	tickets *TicketService
	agents  repository.AgentRepository
}

// NewAssignmentService creates the service. Assignment changes run through
// the ticket service so they share its history and event handling.
func NewAssignmentService(tickets *TicketService, agents repository.AgentRepository) *AssignmentService {
	return &AssignmentService{tickets: tickets, agents: agents}
}

// AssignAgent assigns the ticket to an active agent, or unassigns it when
// agentID is nil.
func (s *AssignmentService) AssignAgent(ctx context.Context, p domain.Principal, ticketID string, agentID *string) (*domain.Ticket, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if agentID != nil && strings.TrimSpace(*agentID) == "" {
		agentID = nil
	}
	patch := TicketPatch{AssignedTo: agentID, ClearAssignee: agentID == nil}
	return s.tickets.EditFields(ctx, p, ticketID, patch)
}

// ListAgents returns the roster, optionally restricted to active agents.
func (s *AssignmentService) ListAgents(ctx context.Context, p domain.Principal, activeOnly bool, limit, offset int) ([]domain.Agent, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	filter := repository.AgentFilter{Limit: limit, Offset: offset}
	if activeOnly {
		active := true
		filter.Active = &active
	}
	agents, err := s.agents.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err, "agent", nil)
	}
	return agents, nil
}

// resolveAgent loads an agent that may receive tickets.
func resolveAgent(ctx context.Context, agents repository.AgentRepository, agentID string) (*domain.Agent, error) {
	agent, err := agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, mapRepoError(err, "agent", map[string]any{"agent_id": agentID})
	}
	if !agent.Active {
		return nil, apperrors.NewConflict("agent inactive", map[string]any{"agent_id": agentID})
	}
	return agent, nil
}
