package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// RefundFilter narrows refund listings.
type RefundFilter struct {
	RequestedBy     *string
	PaymentIntentID *string
	Statuses        []domain.RefundStatus
	Limit           int
	Offset          int
}

// Matches reports whether refund satisfies the filter.
func (f RefundFilter) Matches(refund *domain.Refund) bool {
	if f.RequestedBy != nil && refund.RequestedBy != *f.RequestedBy {
		return false
	}
	if f.PaymentIntentID != nil && refund.PaymentIntentID != *f.PaymentIntentID {
		return false
	}
	if len(f.Statuses) > 0 && !containsValue(f.Statuses, refund.Status) {
		return false
	}
	return true
}

// RefundRepository persists refunds.
type RefundRepository interface {
	// Create stores refund if the refunds of its payment that count against
	// the balance, plus refund.Amount, stay within the order total. It returns
	// ErrBalanceExceeded otherwise and ErrNotFound for an unknown payment.
	Create(ctx context.Context, refund *domain.Refund) error
	GetByID(ctx context.Context, id string) (*domain.Refund, error)
	List(ctx context.Context, filter RefundFilter) ([]domain.Refund, error)
	// ListByPaymentIntent returns every refund of a payment, unpaginated.
	ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]domain.Refund, error)
	// Settle stores the processing outcome of refund only while the stored
	// status still equals expected; otherwise it returns ErrStaleState.
	Settle(ctx context.Context, refund *domain.Refund, expected domain.RefundStatus) error
}

type refundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository builds the Postgres-backed repository.
func NewRefundRepository(pool *pgxpool.Pool) RefundRepository {
	return &refundRepository{pool: pool}
}

const refundColumns = `id, payment_intent_id, order_id, requested_by, amount, currency, reason, status,
               description, images, processed_by, created_at, processed_at`

func (r *refundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// the order row lock queues concurrent refunds of one payment
		var total int64
		err := tx.QueryRow(ctx,
			`SELECT total_amount FROM orders WHERE payment_intent_id=$1 FOR UPDATE`,
			refund.PaymentIntentID,
		).Scan(&total)
		if err != nil {
			return mapNoRows(err)
		}

		statuses := make([]string, 0, len(domain.BalanceStatuses))
		for _, status := range domain.BalanceStatuses {
			statuses = append(statuses, string(status))
		}
		var committed int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_intent_id=$1 AND status = ANY($2::text[])`,
			refund.PaymentIntentID, statuses,
		).Scan(&committed); err != nil {
			return err
		}
		if committed+refund.Amount > total {
			return ErrBalanceExceeded
		}
		return insertRefund(ctx, tx, refund)
	})
}

func insertRefund(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error {
	const query = `
        INSERT INTO refunds (id, payment_intent_id, order_id, requested_by, amount, currency, reason, status,
            description, images, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	images := refund.Images
	if images == nil {
		images = []string{}
	}
	_, err := tx.Exec(ctx, query,
		refund.ID,
		refund.PaymentIntentID,
		refund.OrderID,
		refund.RequestedBy,
		refund.Amount,
		refund.Currency,
		refund.Reason,
		refund.Status,
		refund.Description,
		images,
		refund.CreatedAt,
	)
	return mapWriteErr(err)
}

func (r *refundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id=$1`
	refund, err := scanRefund(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return refund, nil
}

func (r *refundRepository) List(ctx context.Context, filter RefundFilter) ([]domain.Refund, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.RequestedBy != nil {
		args = append(args, *filter.RequestedBy)
		clauses = append(clauses, fmt.Sprintf("requested_by=$%d", len(args)))
	}
	if filter.PaymentIntentID != nil {
		args = append(args, *filter.PaymentIntentID)
		clauses = append(clauses, fmt.Sprintf("payment_intent_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, inClause("status", filter.Statuses, &args))
	}
	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM refunds WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		refundColumns, strings.Join(clauses, " AND "), limit, offset)
	return r.query(ctx, query, args...)
}

func (r *refundRepository) ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_intent_id=$1 ORDER BY created_at ASC`
	return r.query(ctx, query, paymentIntentID)
}

func (r *refundRepository) Settle(ctx context.Context, refund *domain.Refund, expected domain.RefundStatus) error {
	const query = `
        UPDATE refunds SET status=$1, processed_by=$2, processed_at=$3
        WHERE id=$4 AND status=$5`
	cmd, err := r.pool.Exec(ctx, query,
		refund.Status,
		refund.ProcessedBy,
		refund.ProcessedAt,
		refund.ID,
		expected,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *refundRepository) query(ctx context.Context, query string, args ...any) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Refund{}
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *refund)
	}
	return result, rows.Err()
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var refund domain.Refund
	if err := row.Scan(
		&refund.ID,
		&refund.PaymentIntentID,
		&refund.OrderID,
		&refund.RequestedBy,
		&refund.Amount,
		&refund.Currency,
		&refund.Reason,
		&refund.Status,
		&refund.Description,
		&refund.Images,
		&refund.ProcessedBy,
		&refund.CreatedAt,
		&refund.ProcessedAt,
	); err != nil {
		return nil, err
	}
	return &refund, nil
}
