package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// AgentFilter narrows agent listings.
type AgentFilter struct {
	Active *bool
	Limit  int
	Offset int
}

// AgentRepository manages support agents.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	List(ctx context.Context, filter AgentFilter) ([]domain.Agent, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository constructs repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	const query = `
        INSERT INTO agents (id, name, email, active_flag, created_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		agent.ID,
		agent.Name,
		agent.Email,
		agent.Active,
		agent.CreatedAt,
	)
	return err
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	const query = `SELECT id, name, email, active_flag, created_at FROM agents WHERE id=$1`
	var agent domain.Agent
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Email,
		&agent.Active,
		&agent.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &agent, nil
}

func (r *agentRepository) List(ctx context.Context, filter AgentFilter) ([]domain.Agent, error) {
	query := `SELECT id, name, email, active_flag, created_at FROM agents`
	args := []any{}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		query += fmt.Sprintf(" WHERE active_flag=$%d", len(args))
	}
	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY name ASC, id LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Agent{}
	for rows.Next() {
		var agent domain.Agent
		if err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.Email,
			&agent.Active,
			&agent.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}
