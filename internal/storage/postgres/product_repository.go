package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductRepository reads the catalog and is the inventory ledger: all
// inventory writes go through Reserve and Release.
type ProductRepository struct {
	querier
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{querier{pool: pool}}
}

const productColumns = `id, name, category_id, price, currency, inventory, is_active, published_at`

func (r *ProductRepository) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return r.products(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`, ids)
}

// LockProducts locks the rows in ascending id order so concurrent checkouts
// over overlapping carts cannot deadlock.
func (r *ProductRepository) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if txFromContext(ctx) == nil {
		return nil, errors.New("lock products: no transaction in context")
	}
	return r.products(ctx, `
SELECT `+productColumns+`
FROM products
WHERE id = ANY($1::uuid[])
ORDER BY id
FOR UPDATE`, ids)
}

func (r *ProductRepository) products(ctx context.Context, query string, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.query(ctx, query, ids)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("get products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("scan products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (domain.Product, error) {
	var p domain.Product
	var categoryID *string
	err := row.Scan(&p.ID, &p.Name, &categoryID, &p.Price, &p.Currency, &p.Inventory, &p.IsActive, &p.PublishedAt)
	if categoryID != nil {
		p.CategoryID = *categoryID
	}
	return p, err
}

// Reserve decrements inventory only if enough stock remains.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	const stmt = `
UPDATE products
SET inventory = inventory - $2
WHERE id = $1 AND inventory >= $2`

	tag, err := r.exec(ctx, stmt, productID, qty)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientInventory
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("reserve inventory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientInventory
	}
	return nil
}

func (r *ProductRepository) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	tag, err := r.exec(ctx, `UPDATE products SET inventory = inventory + $2 WHERE id = $1`, productID, qty)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("release inventory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductUnavailable
	}
	return nil
}
