package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CartRepository struct {
	querier
}

func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{querier{pool: pool}}
}

func (r *CartRepository) GetCartByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.loadCart(ctx, userID, "")
}

// LockCartByUser locks the cart row and its items until the surrounding
// transaction ends.
func (r *CartRepository) LockCartByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if txFromContext(ctx) == nil {
		return domain.Cart{}, errors.New("lock cart: no transaction in context")
	}
	return r.loadCart(ctx, userID, "FOR UPDATE")
}

func (r *CartRepository) loadCart(ctx context.Context, userID, lock string) (domain.Cart, error) {
	cartQuery := `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1 ` + lock

	var c domain.Cart
	err := r.queryRow(ctx, cartQuery, userID).Scan(&c.ID, &c.UserID, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}

	itemsQuery := `
SELECT product_id, quantity, unit_price
FROM cart_items
WHERE cart_id = $1
ORDER BY product_id ` + lock

	rows, err := r.query(ctx, itemsQuery, c.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("get cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartItem, error) {
		var item domain.CartItem
		err := row.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice)
		return item, err
	})
	if err != nil {
		return domain.Cart{}, fmt.Errorf("scan cart items: %w", err)
	}
	return c, nil
}

// ClearCart empties the cart but keeps the cart row.
func (r *CartRepository) ClearCart(ctx context.Context, cartID string) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		tag, err := r.exec(txCtx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrCartNotFound
			}
			return fmt.Errorf("touch cart: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrCartNotFound
		}
		if _, err := r.exec(txCtx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		return nil
	})
}

func (r *CartRepository) PurgeInactiveCarts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.exec(ctx, `DELETE FROM carts WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge carts: %w", err)
	}
	return tag.RowsAffected(), nil
}
