package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// TicketMessageRepository manages ticket threads. Threads are append-only:
// there is no way to edit or remove a stored message.
type TicketMessageRepository interface {
	// Append stores msg and its attachments, assigning msg.Sequence, and
	// writes the ticket's UpdatedAt in the same step. It fails with
	// ErrStaleState when the ticket changed after it was read.
	Append(ctx context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error
	// ListByTicket returns the thread in append order.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds the Postgres-backed repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Append(ctx context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const touch = `UPDATE tickets SET updated_at=$1, version=version+1 WHERE id=$2 AND version=$3`
		cmd, err := tx.Exec(ctx, touch, ticket.UpdatedAt, ticket.ID, ticket.Version)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, ticket.ID)
		}

		const query = `
            INSERT INTO ticket_messages (id, ticket_id, author_id, author_type, body, internal, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
            RETURNING seq`
		if err := tx.QueryRow(ctx, query,
			msg.ID,
			msg.TicketID,
			msg.AuthorID,
			msg.AuthorType,
			msg.Body,
			msg.Internal,
			msg.CreatedAt,
		).Scan(&msg.Sequence); err != nil {
			return err
		}
		return insertAttachments(ctx, tx, msg)
	})
	if err != nil {
		return err
	}
	ticket.Version++
	return nil
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, seq, author_id, author_type, body, internal, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketMessage{}
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.Sequence,
			&msg.AuthorID,
			&msg.AuthorType,
			&msg.Body,
			&msg.Internal,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadAttachments(ctx, r.pool, ticketID, result); err != nil {
		return nil, err
	}
	return result, nil
}
