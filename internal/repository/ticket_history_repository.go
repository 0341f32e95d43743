package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// TicketHistoryRepository stores the append-only audit trail of a ticket.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	// ListByTicket returns entries oldest first. When types is non-empty only
	// entries with one of those change types are returned.
	ListByTicket(ctx context.Context, ticketID string, types ...domain.TicketChangeType) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds a Postgres backed history repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, query,
		history.ID, history.TicketID,
		history.ChangedByType, history.ChangedByID,
		history.ChangeType, history.OldValue, history.NewValue,
		history.CreatedAt,
	)
	return err
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string, types ...domain.TicketChangeType) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by_type, changed_by_id, change_type, old_value, new_value, created_at
        FROM ticket_history
        WHERE ticket_id=$1 AND (cardinality($2::text[]) = 0 OR change_type = ANY($2::text[]))
        ORDER BY created_at ASC, seq ASC`

	filter := make([]string, 0, len(types))
	for _, t := range types {
		filter = append(filter, string(t))
	}
	rows, err := r.pool.Query(ctx, query, ticketID, filter)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketHistory, error) {
		var h domain.TicketHistory
		err := row.Scan(&h.ID, &h.TicketID, &h.ChangedByType, &h.ChangedByID,
			&h.ChangeType, &h.OldValue, &h.NewValue, &h.CreatedAt)
		return h, err
	})
}
