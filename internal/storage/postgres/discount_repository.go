package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DiscountRepository stores discounts and is the redemption store for
// discount claims, keyed by discount id.
type DiscountRepository struct {
	querier
}

func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{querier{pool: pool}}
}

var _ redemption.Locker = (*DiscountRepository)(nil)

const discountColumns = `
	d.id, d.code, d.discount_type, d.value, d.is_active, d.starts_at, d.ends_at,
	d.max_uses, d.max_uses_per_user, d.min_order_amount, d.times_used,
	ARRAY(SELECT product_id::text FROM discount_products WHERE discount_id = d.id ORDER BY product_id),
	ARRAY(SELECT category_id::text FROM discount_categories WHERE discount_id = d.id ORDER BY category_id)`

func (r *DiscountRepository) GetDiscountByCode(ctx context.Context, code string) (domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts d WHERE d.code = $1`
	return r.loadDiscount(ctx, query, domain.NormalizeDiscountCode(code))
}

func (r *DiscountRepository) CountUserRedemptions(ctx context.Context, discountID, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM discount_redemptions WHERE discount_id = $1 AND user_id = $2`

	var n int
	if err := r.queryRow(ctx, query, discountID, userID).Scan(&n); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrInvalidID
		}
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

func (r *DiscountRepository) SupportsRowLocks() bool { return true }

// LockClaimable locks the discount row and re-checks availability and the
// per-user cap against the locked version.
func (r *DiscountRepository) LockClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts d WHERE d.id = $1 FOR UPDATE OF d`
	d, err := r.loadDiscount(ctx, query, c.Key)
	if errors.Is(err, domain.ErrDiscountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !d.IsAvailable(c.At) {
		return false, nil
	}
	if d.MaxUsesPerUser != nil {
		used, err := r.CountUserRedemptions(ctx, d.ID, c.UserID)
		if err != nil {
			return false, err
		}
		if used >= *d.MaxUsesPerUser {
			return false, nil
		}
	}
	return true, nil
}

func (r *DiscountRepository) ApplyClaim(ctx context.Context, c redemption.Claim) error {
	const insert = `
INSERT INTO discount_redemptions (discount_id, user_id, order_id, redeemed_at)
VALUES ($1, $2, $3, $4)`

	if _, err := r.exec(ctx, insert, c.Key, c.UserID, c.OrderID, c.At); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyRedeemed
		}
		return fmt.Errorf("record redemption: %w", err)
	}
	if _, err := r.exec(ctx, `UPDATE discounts SET times_used = times_used + 1 WHERE id = $1`, c.Key); err != nil {
		return fmt.Errorf("increment discount usage: %w", err)
	}
	return nil
}

// ClaimIfClaimable increments usage and records the redemption in one
// statement whose predicate repeats the availability checks.
func (r *DiscountRepository) ClaimIfClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	const stmt = `
WITH claimed AS (
	UPDATE discounts d
	SET times_used = d.times_used + 1
	WHERE d.id = $1
		AND d.is_active
		AND (d.starts_at IS NULL OR d.starts_at <= $4)
		AND (d.ends_at IS NULL OR d.ends_at >= $4)
		AND (d.max_uses IS NULL OR d.times_used < d.max_uses)
		AND (d.max_uses_per_user IS NULL OR (
			SELECT COUNT(*) FROM discount_redemptions dr
			WHERE dr.discount_id = d.id AND dr.user_id = $2
		) < d.max_uses_per_user)
	RETURNING d.id
)
INSERT INTO discount_redemptions (discount_id, user_id, order_id, redeemed_at)
SELECT id, $2, $3, $4 FROM claimed`

	tag, err := r.exec(ctx, stmt, c.Key, c.UserID, c.OrderID, c.At)
	if err != nil {
		if isUniqueViolation(err) {
			return false, domain.ErrAlreadyRedeemed
		}
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim discount: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DiscountRepository) loadDiscount(ctx context.Context, query string, args ...any) (domain.Discount, error) {
	var d domain.Discount
	var discountType string
	err := r.queryRow(ctx, query, args...).Scan(
		&d.ID, &d.Code, &discountType, &d.Value, &d.IsActive, &d.StartsAt, &d.EndsAt,
		&d.MaxUses, &d.MaxUsesPerUser, &d.MinOrderAmount, &d.TimesUsed,
		&d.ProductIDs, &d.CategoryIDs,
	)
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.Discount{}, domain.ErrDiscountNotFound
		}
		return domain.Discount{}, fmt.Errorf("get discount: %w", err)
	}
	d.Type = domain.DiscountType(discountType)
	return d, nil
}
