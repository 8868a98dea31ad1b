package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a redeemable code. TimesUsed only grows.
type Discount struct {
	ID             string
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	IsActive       bool
	StartsAt       *time.Time
	EndsAt         *time.Time
	MaxUses        *int
	MaxUsesPerUser *int
	MinOrderAmount decimal.Decimal
	TimesUsed      int
	ProductIDs     []string
	CategoryIDs    []string
}

// NormalizeDiscountCode returns the canonical stored form of a code.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsAvailable checks the activity window and the global usage cap.
func (d Discount) IsAvailable(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	if d.MaxUses != nil && d.TimesUsed >= *d.MaxUses {
		return false
	}
	return true
}

// AppliesToAll is true when no product or category scope is set.
func (d Discount) AppliesToAll() bool {
	return len(d.ProductIDs) == 0 && len(d.CategoryIDs) == 0
}

// Applies reports whether p falls within the discount's scope.
func (d Discount) Applies(p Product) bool {
	if d.AppliesToAll() {
		return true
	}
	for _, id := range d.ProductIDs {
		if id == p.ID {
			return true
		}
	}
	if p.CategoryID == "" {
		return false
	}
	for _, id := range d.CategoryIDs {
		if id == p.CategoryID {
			return true
		}
	}
	return false
}

// Amount computes the discount for an eligible subtotal, never exceeding it.
func (d Discount) Amount(eligible decimal.Decimal) decimal.Decimal {
	if !eligible.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch d.Type {
	case DiscountTypePercentage:
		amount = Quantize(eligible.Mul(d.Value).Div(hundred))
	case DiscountTypeFixed:
		amount = Quantize(decimal.Min(d.Value, eligible))
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(eligible) {
		return eligible
	}
	return amount
}

// DiscountRedemption records one discount claim for one order.
type DiscountRedemption struct {
	DiscountID string
	UserID     string
	OrderID    string
	RedeemedAt time.Time
}
