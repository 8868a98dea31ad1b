package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memGiftCards implements the conditional claim only.
type memGiftCards struct {
	mu    sync.Mutex
	cards map[string]domain.GiftCard
}

func (m *memGiftCards) CreateGiftCard(_ context.Context, card domain.GiftCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[card.Code]; ok {
		return domain.ErrGiftCardExists
	}
	m.cards[card.Code] = card
	return nil
}

func (m *memGiftCards) GetGiftCardByCode(_ context.Context, code string) (domain.GiftCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[code]
	if !ok {
		return domain.GiftCard{}, domain.ErrGiftCardNotFound
	}
	return card, nil
}

func (m *memGiftCards) ClaimIfClaimable(_ context.Context, c redemption.Claim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[c.Key]
	if !ok || !card.Claimable() {
		return false, nil
	}
	at := c.At
	card.IsActive = false
	card.Balance = decimal.Zero
	card.RedeemedBy = c.UserID
	card.RedeemedAt = &at
	m.cards[c.Key] = card
	return true, nil
}

func TestGiftCardService(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("issue and redeem", func(t *testing.T) {
		store := &memGiftCards{cards: map[string]domain.GiftCard{}}
		svc := NewGiftCardService(store, redemption.New(store), clock.NewFixed(now), discardLogger())

		card, err := svc.IssueGiftCard(context.Background(), IssueGiftCardInput{Amount: dec("25"), Currency: "USD"})
		require.NoError(t, err)
		assert.Len(t, card.Code, 16)
		assert.Equal(t, "25.00", card.Balance.StringFixed(2))
		assert.Equal(t, "usd", card.Currency)

		redeemed, err := svc.RedeemGiftCard(context.Background(), "u1", " "+card.Code+" ")
		require.NoError(t, err)
		assert.False(t, redeemed.IsActive)
		assert.True(t, redeemed.Balance.IsZero())
		assert.Equal(t, "25.00", redeemed.Amount.StringFixed(2))
		assert.Equal(t, "u1", redeemed.RedeemedBy)

		_, err = svc.RedeemGiftCard(context.Background(), "u2", card.Code)
		assert.ErrorIs(t, err, domain.ErrNotClaimable)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		store := &memGiftCards{cards: map[string]domain.GiftCard{}}
		svc := NewGiftCardService(store, redemption.New(store), clock.NewFixed(now), discardLogger())

		_, err := svc.IssueGiftCard(context.Background(), IssueGiftCardInput{Amount: dec("0")})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("unknown code", func(t *testing.T) {
		store := &memGiftCards{cards: map[string]domain.GiftCard{}}
		svc := NewGiftCardService(store, redemption.New(store), clock.NewFixed(now), discardLogger())

		_, err := svc.RedeemGiftCard(context.Background(), "u1", "NOPE")
		assert.ErrorIs(t, err, domain.ErrNotClaimable)
	})

	t.Run("concurrent redemptions have one winner", func(t *testing.T) {
		store := &memGiftCards{cards: map[string]domain.GiftCard{}}
		svc := NewGiftCardService(store, redemption.New(store), clock.NewFixed(now), discardLogger())
		card, err := svc.IssueGiftCard(context.Background(), IssueGiftCardInput{Amount: dec("50")})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.RedeemGiftCard(context.Background(), "u1", card.Code); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
