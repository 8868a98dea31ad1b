package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusFailed     OrderStatus = "failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusShipped, OrderStatusCanceled, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCanceled, OrderStatusFailed},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCanceled:   {},
	OrderStatusFailed:     {},
}

// ParseOrderStatus validates s against the status enum.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := orderTransitions[st]; !ok {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// CanTransitionTo reports whether the move from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsInventory reports whether an order in s still has inventory reserved.
func (s OrderStatus) HoldsInventory() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// ReleasesInventory reports whether moving from -> to gives reserved stock back.
func ReleasesInventory(from, to OrderStatus) bool {
	return from.HoldsInventory() && (to == OrderStatusCanceled || to == OrderStatusFailed)
}

// Order is a durable checkout result. Monetary fields are snapshots and are
// never recomputed from the live catalog.
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	Currency        string
	ShippingCost    decimal.Decimal
	TaxAmount       decimal.Decimal
	DiscountAmount  decimal.Decimal
	TotalPrice      decimal.Decimal
	DiscountID      string
	DiscountCode    string
	DiscountType    DiscountType
	DiscountValue   decimal.Decimal
	PaymentIntentID string
	IdempotencyKey  string
	IsGift          bool
	GiftMessage     string
	ShippedDate     *time.Time
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is an immutable line snapshot taken at order creation.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal sums the order's line snapshots.
func (o Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}
