package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// Quote is a priced cart. The same computation runs once without locks and
// once under locks; the two must agree on Total.
type Quote struct {
	Currency string
	Lines    []domain.OrderItem
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal

	AppliedDiscount *domain.Discount
}

type pricingInput struct {
	UserID       string
	Currency     string
	ShippingCost decimal.Decimal
	TaxAmount    decimal.Decimal
	DiscountCode string
}

// priceCart validates the cart against the supplied product rows and
// computes totals before any discount.
func priceCart(cart domain.Cart, products map[string]domain.Product, in pricingInput, now time.Time) (Quote, error) {
	if len(cart.Items) == 0 {
		return Quote{}, domain.ErrCartEmpty
	}

	items := append([]domain.CartItem(nil), cart.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	q := Quote{
		Shipping: domain.Quantize(in.ShippingCost),
		Tax:      domain.Quantize(in.TaxAmount),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return Quote{}, domain.ErrInvalidQuantity
		}
		p, ok := products[item.ProductID]
		if !ok || !p.IsPublished(now) {
			return Quote{}, domain.ErrProductUnavailable
		}
		currency := domain.NormalizeCurrency(p.Currency)
		if q.Currency == "" {
			q.Currency = currency
		} else if q.Currency != currency {
			return Quote{}, domain.ErrMixedCurrencies
		}
		if p.Inventory < item.Quantity {
			return Quote{}, domain.ErrInsufficientInventory
		}
		line := domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   domain.Quantize(p.Price),
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.LineTotal())
	}
	if in.Currency != "" && domain.NormalizeCurrency(in.Currency) != q.Currency {
		return Quote{}, domain.ErrCurrencyMismatch
	}

	q.Total = domain.Quantize(q.Subtotal.Add(q.Shipping).Add(q.Tax))
	if !q.Total.IsPositive() {
		return Quote{}, domain.ErrNonPositiveTotal
	}
	return q, nil
}

// DiscountResolver validates a code and computes its amount for a cart.
type DiscountResolver struct {
	store DiscountStore
}

func NewDiscountResolver(store DiscountStore) *DiscountResolver {
	return &DiscountResolver{store: store}
}

// Apply resolves code against q and returns q with the discount subtracted.
// Checks run in a fixed order so callers see the first failing rule.
func (r *DiscountResolver) Apply(ctx context.Context, q Quote, code, userID string, products map[string]domain.Product, now time.Time) (Quote, error) {
	code = domain.NormalizeDiscountCode(code)
	if code == "" {
		return q, nil
	}

	d, err := r.store.GetDiscountByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrDiscountNotFound) {
			return Quote{}, domain.ErrDiscountInvalid
		}
		return Quote{}, err
	}
	if !d.IsAvailable(now) {
		return Quote{}, domain.ErrDiscountInvalid
	}
	if q.Subtotal.LessThan(d.MinOrderAmount) {
		return Quote{}, domain.ErrDiscountMinimum
	}
	if d.MaxUsesPerUser != nil {
		used, err := r.store.CountUserRedemptions(ctx, d.ID, userID)
		if err != nil {
			return Quote{}, err
		}
		if used >= *d.MaxUsesPerUser {
			return Quote{}, domain.ErrDiscountUserLimit
		}
	}

	eligible := decimal.Zero
	for _, line := range q.Lines {
		if d.Applies(products[line.ProductID]) {
			eligible = eligible.Add(line.LineTotal())
		}
	}
	amount := d.Amount(eligible)
	if !amount.IsPositive() {
		return Quote{}, domain.ErrDiscountNotApplicable
	}

	q.Discount = amount
	q.Total = domain.Quantize(q.Subtotal.Add(q.Shipping).Add(q.Tax).Sub(amount))
	q.AppliedDiscount = &d
	if !q.Total.IsPositive() {
		return Quote{}, domain.ErrNonPositiveTotal
	}
	return q, nil
}
