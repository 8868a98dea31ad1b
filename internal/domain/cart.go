package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart belongs to exactly one user and is emptied by a successful checkout.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem captures the unit price seen when the item was added; checkout
// re-prices from the product row.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Product is the catalog view checkout needs.
type Product struct {
	ID          string
	Name        string
	CategoryID  string
	Price       decimal.Decimal
	Currency    string
	Inventory   int
	IsActive    bool
	PublishedAt *time.Time
}

// IsPublished reports whether the product may be sold at now.
func (p Product) IsPublished(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.PublishedAt == nil || !p.PublishedAt.After(now)
}
