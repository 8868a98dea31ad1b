package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/shopspring/decimal"
)

const maxGiftMessageLength = 500

type CheckoutService struct {
	tx        Transactor
	carts     CartStore
	products  ProductReader
	ledger    InventoryLedger
	orders    OrderStore
	discounts *DiscountResolver
	guard     redemption.Guard
	payments  PaymentProvider
	clock     clock.Clock
	logger    *slog.Logger
}

type CheckoutDeps struct {
	Tx        Transactor
	Carts     CartStore
	Products  ProductReader
	Ledger    InventoryLedger
	Orders    OrderStore
	Discounts DiscountStore
	// Redemptions claims discount slots. Keyed by discount id.
	Redemptions redemption.Guard
	Payments    PaymentProvider
}

func NewCheckoutService(deps CheckoutDeps, clk clock.Clock, logger *slog.Logger) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		tx:        deps.Tx,
		carts:     deps.Carts,
		products:  deps.Products,
		ledger:    deps.Ledger,
		orders:    deps.Orders,
		discounts: NewDiscountResolver(deps.Discounts),
		guard:     deps.Redemptions,
		payments:  deps.Payments,
		clock:     clk,
		logger:    logger,
	}
}

type CheckoutInput struct {
	UserID         string
	IdempotencyKey string
	Currency       string
	ShippingCost   decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountCode   string
	IsGift         bool
	GiftMessage    string
}

type CheckoutResult struct {
	Order   domain.Order
	Created bool
	// ClientSecret is set when this call created the payment intent.
	ClientSecret string
}

func (in CheckoutInput) validate() error {
	if in.UserID == "" {
		return domain.ErrInvalidID
	}
	if in.ShippingCost.IsNegative() || in.TaxAmount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if utf8.RuneCountInString(in.GiftMessage) > maxGiftMessageLength {
		return domain.ErrGiftMessageTooLong
	}
	return nil
}

func (in CheckoutInput) pricing() pricingInput {
	return pricingInput{
		UserID:       in.UserID,
		Currency:     in.Currency,
		ShippingCost: in.ShippingCost,
		TaxAmount:    in.TaxAmount,
		DiscountCode: in.DiscountCode,
	}
}

// Checkout converts the user's cart into an order. Retries with the same
// idempotency key return the order created by the first successful attempt.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if err := in.validate(); err != nil {
		return CheckoutResult{}, err
	}
	if s.payments == nil {
		return CheckoutResult{}, domain.ErrPaymentUnavailable
	}

	if in.IdempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return CheckoutResult{}, err
		}
		if existing != nil {
			return s.resume(ctx, *existing)
		}
	}

	quote, err := s.quote(ctx, in)
	if err != nil {
		// A concurrent attempt with this key may have committed and emptied
		// the cart since the lookup above.
		if in.IdempotencyKey != "" {
			if existing, findErr := s.orders.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); findErr == nil && existing != nil {
				return s.resume(ctx, *existing)
			}
		}
		return CheckoutResult{}, err
	}

	intent, err := s.createIntent(ctx, CreateIntentInput{
		Amount:           domain.ToMinorUnits(quote.Total),
		Currency:         quote.Currency,
		IdempotencyToken: providerToken(in.UserID, in.IdempotencyKey, quote.Total, quote.Currency),
		Metadata: map[string]string{
			"user_id":         in.UserID,
			"idempotency_key": in.IdempotencyKey,
		},
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	res, err := s.commit(ctx, in, intent)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) && in.IdempotencyKey != "" {
			return s.loseRace(ctx, in, intent, err)
		}
		s.compensate(ctx, intent.ID, err)
		return CheckoutResult{}, err
	}
	if !res.Created {
		if res.Order.PaymentIntentID != intent.ID {
			s.compensate(ctx, intent.ID, domain.ErrDuplicateOrder)
		}
		return res, nil
	}

	if err := s.payments.UpdateMetadata(ctx, intent.ID, map[string]string{
		"order_id": res.Order.ID,
		"user_id":  in.UserID,
	}); err != nil {
		s.logger.Warn("attach payment intent metadata failed", "order_id", res.Order.ID, "payment_intent_id", intent.ID, "error", err)
	}
	res.ClientSecret = intent.ClientSecret
	s.logger.Info("checkout completed", "order_id", res.Order.ID, "user_id", in.UserID, "total", res.Order.TotalPrice.StringFixed(2), "currency", res.Order.Currency)
	return res, nil
}

// quote prices the cart without taking locks.
func (s *CheckoutService) quote(ctx context.Context, in CheckoutInput) (Quote, error) {
	cart, err := s.carts.GetCartByUser(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return Quote{}, domain.ErrCartEmpty
		}
		return Quote{}, err
	}
	if len(cart.Items) == 0 {
		return Quote{}, domain.ErrCartEmpty
	}
	products, err := s.products.GetProducts(ctx, cartProductIDs(cart))
	if err != nil {
		return Quote{}, err
	}
	return s.price(ctx, cart, products, in)
}

func (s *CheckoutService) price(ctx context.Context, cart domain.Cart, products map[string]domain.Product, in CheckoutInput) (Quote, error) {
	now := s.clock.Now()
	q, err := priceCart(cart, products, in.pricing(), now)
	if err != nil {
		return Quote{}, err
	}
	return s.discounts.Apply(ctx, q, in.DiscountCode, in.UserID, products, now)
}

// commit re-prices under row locks and persists the order. The amount
// authorized with the provider must match the locked price exactly.
func (s *CheckoutService) commit(ctx context.Context, in CheckoutInput, intent PaymentIntent) (CheckoutResult, error) {
	var res CheckoutResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.LockCartByUser(txCtx, in.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrCartNotFound) {
				return domain.Conflict(domain.ErrCartEmpty)
			}
			return err
		}

		if in.IdempotencyKey != "" {
			existing, err := s.orders.FindByIdempotencyKey(txCtx, in.UserID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				res = CheckoutResult{Order: *existing}
				return nil
			}
		}

		products, err := s.ledger.LockProducts(txCtx, cartProductIDs(cart))
		if err != nil {
			return err
		}
		q, err := s.price(txCtx, cart, products, in)
		if err != nil {
			return lockedFailure(err)
		}
		if domain.ToMinorUnits(q.Total) != intent.Amount || q.Currency != intent.Currency {
			return domain.ErrCartChanged
		}

		now := s.clock.Now()
		order := buildOrder(in, q, intent.ID, now)
		if err := s.orders.CreateOrder(txCtx, order); err != nil {
			return err
		}
		for _, line := range order.Items {
			if err := s.ledger.Reserve(txCtx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if q.AppliedDiscount != nil {
			err := s.guard.Claim(txCtx, redemption.Claim{
				Key:     q.AppliedDiscount.ID,
				UserID:  in.UserID,
				OrderID: order.ID,
				At:      now,
			})
			if err != nil {
				if redemption.IsNotClaimable(err) {
					return domain.Conflict(domain.ErrDiscountInvalid)
				}
				return err
			}
		}
		if err := s.carts.ClearCart(txCtx, cart.ID); err != nil {
			return err
		}

		res = CheckoutResult{Order: order, Created: true}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	return res, nil
}

// resume returns an existing order, creating its payment intent if an
// earlier attempt stopped before one was attached.
func (s *CheckoutService) resume(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	// Only a pending order can still be paid; later states have already
	// released or consumed their inventory.
	if order.PaymentIntentID != "" || order.Status != domain.OrderStatusPending {
		return CheckoutResult{Order: order}, nil
	}

	intent, err := s.createIntent(ctx, CreateIntentInput{
		Amount:           domain.ToMinorUnits(order.TotalPrice),
		Currency:         order.Currency,
		IdempotencyToken: "order-" + order.ID,
		Metadata: map[string]string{
			"order_id":        order.ID,
			"user_id":         order.UserID,
			"idempotency_key": order.IdempotencyKey,
		},
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	attached, err := s.orders.AttachPaymentIntent(ctx, order.ID, intent.ID)
	if err != nil {
		s.compensate(ctx, intent.ID, err)
		return CheckoutResult{}, err
	}
	if !attached {
		current, err := s.orders.FindByIdempotencyKey(ctx, order.UserID, order.IdempotencyKey)
		if err != nil {
			return CheckoutResult{}, err
		}
		if current == nil {
			return CheckoutResult{}, domain.ErrOrderNotFound
		}
		if current.PaymentIntentID != intent.ID {
			s.compensate(ctx, intent.ID, domain.ErrDuplicateOrder)
		}
		return CheckoutResult{Order: *current}, nil
	}

	order.PaymentIntentID = intent.ID
	return CheckoutResult{Order: order, ClientSecret: intent.ClientSecret}, nil
}

// loseRace handles a concurrent attempt with the same key committing first.
// The transaction has already rolled back, so the winner is visible.
func (s *CheckoutService) loseRace(ctx context.Context, in CheckoutInput, intent PaymentIntent, cause error) (CheckoutResult, error) {
	existing, err := s.orders.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
	if err != nil || existing == nil {
		s.compensate(ctx, intent.ID, cause)
		if err != nil {
			return CheckoutResult{}, err
		}
		return CheckoutResult{}, cause
	}
	if existing.PaymentIntentID != intent.ID {
		s.compensate(ctx, intent.ID, cause)
	}
	return CheckoutResult{Order: *existing}, nil
}

// createIntent calls the provider. A token reused after an earlier attempt
// was compensated yields the canceled intent back, so that case retries once
// under a fresh token.
func (s *CheckoutService) createIntent(ctx context.Context, in CreateIntentInput) (PaymentIntent, error) {
	intent, err := s.payments.CreateIntent(ctx, in)
	if err == nil && intent.Canceled {
		s.logger.Info("provider returned canceled intent, retrying with new token", "payment_intent_id", intent.ID)
		in.IdempotencyToken += "-" + newID()
		intent, err = s.payments.CreateIntent(ctx, in)
	}
	if err != nil {
		return PaymentIntent{}, domain.ExternalService("create payment intent", err)
	}
	return intent, nil
}

// compensate cancels an intent that will never back an order.
func (s *CheckoutService) compensate(ctx context.Context, intentID string, cause error) {
	s.logger.Info("canceling payment intent", "payment_intent_id", intentID, "reason", cause.Error())
	cancelIntentBestEffort(context.WithoutCancel(ctx), s.payments, s.logger, intentID)
}

// lockedFailure reclassifies a pricing failure found under lock: the cart or
// catalog changed since the optimistic pass.
func lockedFailure(err error) error {
	if domain.KindOf(err) == domain.KindValidation {
		return domain.Conflict(err)
	}
	return err
}

func buildOrder(in CheckoutInput, q Quote, intentID string, now time.Time) domain.Order {
	order := domain.Order{
		ID:              newID(),
		UserID:          in.UserID,
		Status:          domain.OrderStatusPending,
		Currency:        q.Currency,
		ShippingCost:    q.Shipping,
		TaxAmount:       q.Tax,
		DiscountAmount:  q.Discount,
		TotalPrice:      q.Total,
		PaymentIntentID: intentID,
		IdempotencyKey:  in.IdempotencyKey,
		IsGift:          in.IsGift,
		GiftMessage:     in.GiftMessage,
		Items:           q.Lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if d := q.AppliedDiscount; d != nil {
		order.DiscountID = d.ID
		order.DiscountCode = d.Code
		order.DiscountType = d.Type
		order.DiscountValue = d.Value
	}
	return order
}

func cartProductIDs(cart domain.Cart) []string {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// providerToken lets concurrent retries of one checkout share a single
// intent. The amount is part of the token so a retry after the cart changed
// does not collide with the earlier request's parameters.
func providerToken(userID, key string, total decimal.Decimal, currency string) string {
	if key == "" {
		key = newID()
	}
	return fmt.Sprintf("checkout-%s-%s-%d%s", userID, key, domain.ToMinorUnits(total), currency)
}
