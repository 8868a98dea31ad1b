package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const idempotencyConstraint = "orders_user_idempotency_key_uniq"

type OrderRepository struct {
	querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{querier{pool: pool}}
}

const orderColumns = `
	id, user_id, status, currency, shipping_cost, tax_amount, discount_amount,
	total_price, discount_id, discount_code, discount_type, discount_value,
	payment_intent_id, idempotency_key, is_gift, gift_message, shipped_date,
	created_at, updated_at`

// FindByIdempotencyKey returns nil when the user has no order for key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1 AND idempotency_key = $2 AND NOT is_deleted`

	o, err := r.loadOrder(ctx, query, userID, key)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		const stmt = `
INSERT INTO orders (
	id, user_id, status, currency, shipping_cost, tax_amount, discount_amount,
	total_price, discount_id, discount_code, discount_type, discount_value,
	payment_intent_id, idempotency_key, is_gift, gift_message, shipped_date,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)`

		var discountValue decimal.NullDecimal
		if order.DiscountID != "" {
			discountValue = decimal.NewNullDecimal(order.DiscountValue)
		}
		_, err := r.exec(txCtx, stmt,
			order.ID, order.UserID, order.Status, order.Currency,
			order.ShippingCost, order.TaxAmount, order.DiscountAmount, order.TotalPrice,
			nullable(order.DiscountID), nullable(order.DiscountCode), nullable(string(order.DiscountType)), discountValue,
			nullable(order.PaymentIntentID), nullable(order.IdempotencyKey),
			order.IsGift, order.GiftMessage, order.ShippedDate, order.CreatedAt,
		)
		if err != nil {
			if _, constraint := pgErrorCode(err); isUniqueViolation(err) && constraint == idempotencyConstraint {
				return domain.ErrDuplicateOrder
			}
			if isCheckViolation(err) {
				return domain.ErrNonPositiveTotal
			}
			return fmt.Errorf("create order: %w", err)
		}

		const itemStmt = `
INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5)`
		for _, item := range order.Items {
			if _, err := r.exec(txCtx, itemStmt, order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice); err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}
		return nil
	})
}

// AttachPaymentIntent sets the intent only if the order has none yet. It
// reports whether this call set it.
func (r *OrderRepository) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (bool, error) {
	const stmt = `
UPDATE orders
SET payment_intent_id = $2, updated_at = NOW()
WHERE id = $1 AND payment_intent_id IS NULL AND NOT is_deleted`

	tag, err := r.exec(ctx, stmt, orderID, intentID)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrOrderNotFound
		}
		return false, fmt.Errorf("attach payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND NOT is_deleted
FOR UPDATE`
	return r.loadOrder(ctx, query, orderID)
}

func (r *OrderRepository) GetOrderByPaymentIntentForUpdate(ctx context.Context, intentID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + `
FROM orders
WHERE payment_intent_id = $1 AND NOT is_deleted
ORDER BY created_at
LIMIT 1
FOR UPDATE`
	return r.loadOrder(ctx, query, intentID)
}

// UpdateStatus writes status and, when non-nil, shippedDate.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, shippedDate *time.Time) error {
	const stmt = `
UPDATE orders
SET status = $2, shipped_date = COALESCE($3, shipped_date), updated_at = NOW()
WHERE id = $1 AND NOT is_deleted`

	tag, err := r.exec(ctx, stmt, orderID, status, shippedDate)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrOrderNotFound
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidStatus
		}
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	const query = `
SELECT id
FROM orders
WHERE status = 'pending' AND created_at < $1 AND NOT is_deleted
ORDER BY id
LIMIT $2`

	rows, err := r.query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan stale orders: %w", err)
	}
	return ids, nil
}

func (r *OrderRepository) loadOrder(ctx context.Context, query string, args ...any) (domain.Order, error) {
	var (
		o              domain.Order
		status         string
		discountID     *string
		discountCode   *string
		discountType   *string
		discountValue  decimal.NullDecimal
		intentID       *string
		idempotencyKey *string
	)
	err := r.queryRow(ctx, query, args...).Scan(
		&o.ID, &o.UserID, &status, &o.Currency, &o.ShippingCost, &o.TaxAmount, &o.DiscountAmount,
		&o.TotalPrice, &discountID, &discountCode, &discountType, &discountValue,
		&intentID, &idempotencyKey, &o.IsGift, &o.GiftMessage, &o.ShippedDate,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	o.Status = domain.OrderStatus(status)
	o.DiscountID = deref(discountID)
	o.DiscountCode = deref(discountCode)
	o.DiscountType = domain.DiscountType(deref(discountType))
	if discountValue.Valid {
		o.DiscountValue = discountValue.Decimal
	}
	o.PaymentIntentID = deref(intentID)
	o.IdempotencyKey = deref(idempotencyKey)

	rows, err := r.query(ctx, `
SELECT product_id, product_name, quantity, unit_price
FROM order_items
WHERE order_id = $1
ORDER BY product_id`, o.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order items: %w", err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var item domain.OrderItem
		err := row.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice)
		return item, err
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order items: %w", err)
	}
	return o, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
