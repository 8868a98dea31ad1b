package app

import (
	"context"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
)

// Transactor runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction. AfterCommit callbacks run only once the outermost
// transaction commits.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	AfterCommit(ctx context.Context, fn func(ctx context.Context))
}

type CartStore interface {
	GetCartByUser(ctx context.Context, userID string) (domain.Cart, error)
	LockCartByUser(ctx context.Context, userID string) (domain.Cart, error)
	ClearCart(ctx context.Context, cartID string) error
	PurgeInactiveCarts(ctx context.Context, before time.Time) (int64, error)
}

type ProductReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// InventoryLedger is the only writer of product inventory.
type InventoryLedger interface {
	// LockProducts locks product rows in ascending id order.
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
}

type OrderStore interface {
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	AttachPaymentIntent(ctx context.Context, orderID, intentID string) (bool, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderByPaymentIntentForUpdate(ctx context.Context, intentID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, shippedDate *time.Time) error
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type DiscountStore interface {
	GetDiscountByCode(ctx context.Context, code string) (domain.Discount, error)
	CountUserRedemptions(ctx context.Context, discountID, userID string) (int, error)
}

// WebhookStore is the durable dedup ledger. RecordEvent reports false when
// the event id was already recorded.
type WebhookStore interface {
	RecordEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error)
}

type GiftCardStore interface {
	CreateGiftCard(ctx context.Context, card domain.GiftCard) error
	GetGiftCardByCode(ctx context.Context, code string) (domain.GiftCard, error)
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Canceled     bool
}

type CreateIntentInput struct {
	Amount           int64
	Currency         string
	IdempotencyToken string
	Metadata         map[string]string
}

// PaymentProvider is the external payment service.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (PaymentIntent, error)
	CancelIntent(ctx context.Context, intentID string) error
	UpdateMetadata(ctx context.Context, intentID string, metadata map[string]string) error
}

// StatusChange is published after a status transition commits.
type StatusChange struct {
	OrderID   string
	UserID    string
	From      domain.OrderStatus
	To        domain.OrderStatus
	ChangedAt time.Time
}

type Notifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange) error
}
