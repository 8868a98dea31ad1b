package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
)

// OrderStatusService owns every order status change and its side effects.
type OrderStatusService struct {
	tx       Transactor
	orders   OrderStore
	ledger   InventoryLedger
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

func NewOrderStatusService(tx Transactor, orders OrderStore, ledger InventoryLedger, notifier Notifier, clk clock.Clock, logger *slog.Logger) *OrderStatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderStatusService{
		tx:       tx,
		orders:   orders,
		ledger:   ledger,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
	}
}

// TransitionResult reports what Transition did.
type TransitionResult struct {
	Order   domain.Order
	Changed bool
}

// Transition moves a locked order to next. It must run inside a transaction
// that holds the order row lock. Inventory release and notifications are
// queued to run after commit.
func (s *OrderStatusService) Transition(ctx context.Context, order domain.Order, next domain.OrderStatus, shippedDate *time.Time) (TransitionResult, error) {
	if next == order.Status {
		if shippedDate == nil || (order.ShippedDate != nil && order.ShippedDate.Equal(*shippedDate)) {
			return TransitionResult{Order: order}, nil
		}
		if err := s.orders.UpdateStatus(ctx, order.ID, order.Status, shippedDate); err != nil {
			return TransitionResult{}, err
		}
		order.ShippedDate = shippedDate
		return TransitionResult{Order: order}, nil
	}
	if !order.Status.CanTransitionTo(next) {
		return TransitionResult{}, domain.ErrIllegalTransition
	}

	now := s.clock.Now()
	if next == domain.OrderStatusShipped && shippedDate == nil && order.ShippedDate == nil {
		shippedDate = &now
	}
	if shippedDate == nil {
		shippedDate = order.ShippedDate
	}
	if err := s.orders.UpdateStatus(ctx, order.ID, next, shippedDate); err != nil {
		return TransitionResult{}, err
	}

	prev := order.Status
	order.Status = next
	order.ShippedDate = shippedDate
	order.UpdatedAt = now

	if domain.ReleasesInventory(prev, next) {
		items := append([]domain.OrderItem(nil), order.Items...)
		orderID := order.ID
		s.tx.AfterCommit(ctx, func(ctx context.Context) {
			s.releaseInventory(ctx, orderID, items)
		})
	}
	change := StatusChange{
		OrderID:   order.ID,
		UserID:    order.UserID,
		From:      prev,
		To:        next,
		ChangedAt: now,
	}
	s.tx.AfterCommit(ctx, func(ctx context.Context) {
		s.notify(ctx, change)
	})

	s.logger.Info("order status changed", "order_id", order.ID, "from", prev, "to", next)
	return TransitionResult{Order: order, Changed: true}, nil
}

// ChangeStatus locks the order and transitions it in its own transaction.
// When from is non-empty the change is skipped unless the order is still in
// that state.
func (s *OrderStatusService) ChangeStatus(ctx context.Context, orderID string, from, next domain.OrderStatus) (TransitionResult, error) {
	var res TransitionResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if from != "" && order.Status != from {
			res = TransitionResult{Order: order}
			return nil
		}
		res, err = s.Transition(txCtx, order, next, nil)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

func (s *OrderStatusService) releaseInventory(ctx context.Context, orderID string, items []domain.OrderItem) {
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		for _, item := range items {
			if err := s.ledger.Release(txCtx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("inventory release failed", "order_id", orderID, "error", err)
	}
}

func (s *OrderStatusService) notify(ctx context.Context, change StatusChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.OrderStatusChanged(ctx, change); err != nil {
		s.logger.Warn("status notification failed", "order_id", change.OrderID, "status", change.To, "error", err)
	}
}

// OrderService handles owner-initiated order actions.
type OrderService struct {
	tx       Transactor
	orders   OrderStore
	status   *OrderStatusService
	payments PaymentProvider
	logger   *slog.Logger
}

func NewOrderService(tx Transactor, orders OrderStore, status *OrderStatusService, payments PaymentProvider, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		tx:       tx,
		orders:   orders,
		status:   status,
		payments: payments,
		logger:   logger,
	}
}

// CancelOrder cancels one of userID's orders. Only pending and processing
// orders can be canceled.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	var res TransitionResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidID) {
				return domain.ErrOrderNotFound
			}
			return err
		}
		if order.UserID != userID {
			return domain.ErrOrderNotFound
		}
		if order.Status == domain.OrderStatusCanceled {
			res = TransitionResult{Order: order}
			return nil
		}
		res, err = s.status.Transition(txCtx, order, domain.OrderStatusCanceled, nil)
		if err != nil {
			return err
		}
		if res.Order.PaymentIntentID != "" {
			intentID := res.Order.PaymentIntentID
			s.tx.AfterCommit(txCtx, func(ctx context.Context) {
				cancelIntentBestEffort(ctx, s.payments, s.logger, intentID)
			})
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return res.Order, nil
}

func cancelIntentBestEffort(ctx context.Context, payments PaymentProvider, logger *slog.Logger, intentID string) {
	if payments == nil || intentID == "" {
		return
	}
	if err := payments.CancelIntent(ctx, intentID); err != nil {
		logger.Warn("payment intent cancel failed", "payment_intent_id", intentID, "error", err)
	}
}
