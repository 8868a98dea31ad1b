package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/shopspring/decimal"
)

type GiftCardService struct {
	store  GiftCardStore
	guard  redemption.Guard
	clock  clock.Clock
	logger *slog.Logger
}

func NewGiftCardService(store GiftCardStore, guard redemption.Guard, clk clock.Clock, logger *slog.Logger) *GiftCardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GiftCardService{store: store, guard: guard, clock: clk, logger: logger}
}

type IssueGiftCardInput struct {
	Amount   decimal.Decimal
	Currency string
}

func (s *GiftCardService) IssueGiftCard(ctx context.Context, in IssueGiftCardInput) (domain.GiftCard, error) {
	amount := domain.Quantize(in.Amount)
	if !amount.IsPositive() {
		return domain.GiftCard{}, domain.ErrInvalidAmount
	}
	card := domain.GiftCard{
		ID:        newID(),
		Code:      newGiftCardCode(),
		Amount:    amount,
		Balance:   amount,
		Currency:  domain.NormalizeCurrency(in.Currency),
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateGiftCard(ctx, card); err != nil {
		return domain.GiftCard{}, err
	}
	return card, nil
}

// RedeemGiftCard drains the whole balance of code for userID. Only one of
// several concurrent redemptions succeeds.
func (s *GiftCardService) RedeemGiftCard(ctx context.Context, userID, code string) (domain.GiftCard, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.GiftCard{}, domain.ErrNotClaimable
	}

	err := s.guard.Claim(ctx, redemption.Claim{
		Key:    code,
		UserID: userID,
		At:     s.clock.Now(),
	})
	if err != nil {
		return domain.GiftCard{}, err
	}

	card, err := s.store.GetGiftCardByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrGiftCardNotFound) {
			return domain.GiftCard{}, domain.ErrNotClaimable
		}
		return domain.GiftCard{}, err
	}
	s.logger.Info("gift card redeemed", "gift_card_id", card.ID, "user_id", userID, "amount", card.Amount.StringFixed(2))
	return card, nil
}
