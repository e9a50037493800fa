package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ProductRepository reads the seeded catalog. There is no write path.
type ProductRepository struct {
	db DBTX
}

func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// List returns all products ordered by id
func (r *ProductRepository) List(ctx context.Context) ([]*Product, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, price::text FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]*Product, 0)
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetByID retrieves a single product
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*Product, error) {
	p := &Product{}
	err := r.db.QueryRow(ctx, `SELECT id, name, price::text FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}
