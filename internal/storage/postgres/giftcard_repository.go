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

// GiftCardRepository stores gift cards and claims them by code.
type GiftCardRepository struct {
	querier
}

func NewGiftCardRepository(pool *pgxpool.Pool) *GiftCardRepository {
	return &GiftCardRepository{querier{pool: pool}}
}

var _ redemption.Locker = (*GiftCardRepository)(nil)

const giftCardColumns = `id, code, amount, balance, currency, is_active, redeemed_by, redeemed_at, created_at`

func (r *GiftCardRepository) CreateGiftCard(ctx context.Context, card domain.GiftCard) error {
	const stmt = `
INSERT INTO gift_cards (id, code, amount, balance, currency, is_active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.exec(ctx, stmt, card.ID, card.Code, card.Amount, card.Balance, card.Currency, card.IsActive, card.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrGiftCardExists
		}
		if isCheckViolation(err) {
			return domain.ErrInvalidAmount
		}
		return fmt.Errorf("create gift card: %w", err)
	}
	return nil
}

func (r *GiftCardRepository) GetGiftCardByCode(ctx context.Context, code string) (domain.GiftCard, error) {
	return r.loadGiftCard(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1`, code)
}

func (r *GiftCardRepository) SupportsRowLocks() bool { return true }

func (r *GiftCardRepository) LockClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	card, err := r.loadGiftCard(ctx, `SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1 FOR UPDATE`, c.Key)
	if errors.Is(err, domain.ErrGiftCardNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return card.Claimable(), nil
}

func (r *GiftCardRepository) ApplyClaim(ctx context.Context, c redemption.Claim) error {
	const stmt = `
UPDATE gift_cards
SET balance = 0, is_active = FALSE, redeemed_by = $2, redeemed_at = $3
WHERE code = $1`

	tag, err := r.exec(ctx, stmt, c.Key, c.UserID, c.At)
	if err != nil {
		return fmt.Errorf("redeem gift card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGiftCardNotFound
	}
	return nil
}

func (r *GiftCardRepository) ClaimIfClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	const stmt = `
UPDATE gift_cards
SET balance = 0, is_active = FALSE, redeemed_by = $2, redeemed_at = $3
WHERE code = $1 AND is_active AND balance > 0`

	tag, err := r.exec(ctx, stmt, c.Key, c.UserID, c.At)
	if err != nil {
		return false, fmt.Errorf("redeem gift card: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *GiftCardRepository) loadGiftCard(ctx context.Context, query string, args ...any) (domain.GiftCard, error) {
	var g domain.GiftCard
	var redeemedBy *string
	err := r.queryRow(ctx, query, args...).Scan(
		&g.ID, &g.Code, &g.Amount, &g.Balance, &g.Currency, &g.IsActive, &redeemedBy, &g.RedeemedAt, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GiftCard{}, domain.ErrGiftCardNotFound
		}
		return domain.GiftCard{}, fmt.Errorf("get gift card: %w", err)
	}
	g.RedeemedBy = deref(redeemedBy)
	return g, nil
}
