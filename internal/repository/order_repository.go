package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// OrderRepository reads orders owned by the checkout system. Create only
// exists for seeding.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Order, error)
	// ListByUser returns orders where userID is the buyer or the seller.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error)
}

type orderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository builds the Postgres-backed repository.
func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &orderRepository{pool: pool}
}

const orderColumns = `id, user_id, seller_id, payment_intent_id, status, currency, total_amount,
               items, shipping_address, created_at`

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	const query = `
        INSERT INTO orders (id, user_id, seller_id, payment_intent_id, status, currency, total_amount,
            items, shipping_address, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO NOTHING`
	items := order.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	_, err := r.pool.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.SellerID,
		order.PaymentIntentID,
		order.Status,
		order.Currency,
		order.TotalAmount,
		items,
		order.ShippingAddress,
		order.CreatedAt,
	)
	return err
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return order, nil
}

func (r *orderRepository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id=$1`
	order, err := scanOrder(r.pool.QueryRow(ctx, query, paymentIntentID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Order, error) {
	limit, offset = NormalizePage(limit, offset)
	query := `SELECT ` + orderColumns + `
        FROM orders WHERE user_id=$1 OR seller_id=$1
        ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

// items and shipping_address are JSONB columns decoded by pgx.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.SellerID,
		&order.PaymentIntentID,
		&order.Status,
		&order.Currency,
		&order.TotalAmount,
		&order.Items,
		&order.ShippingAddress,
		&order.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &order, nil
}
