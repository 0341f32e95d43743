package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

// ProductRepository looks up catalogue items referenced by tickets.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

type productRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &productRepository{pool: pool}
}

func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	const query = `
        INSERT INTO products (id, seller_id, name, price, currency, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		product.ID,
		product.SellerID,
		product.Name,
		product.Price,
		product.Currency,
		product.CreatedAt,
	)
	return err
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	const query = `SELECT id, seller_id, name, price, currency, created_at FROM products WHERE id=$1`
	var product domain.Product
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&product.ID,
		&product.SellerID,
		&product.Name,
		&product.Price,
		&product.Currency,
		&product.CreatedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}
	return &product, nil
}
