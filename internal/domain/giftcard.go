package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GiftCard is a single-use balance. Redemption drains it and deactivates it.
type GiftCard struct {
	ID         string
	Code       string
	Amount     decimal.Decimal
	Balance    decimal.Decimal
	Currency   string
	IsActive   bool
	RedeemedBy string
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// Claimable is the predicate every redemption path repeats.
func (g GiftCard) Claimable() bool {
	return g.IsActive && g.Balance.IsPositive()
}
