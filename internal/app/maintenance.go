package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
)

const (
	defaultPendingOrderTTL = 24 * time.Hour
	defaultCartInactivity  = 30 * 24 * time.Hour
	staleOrderBatchSize    = 100
)

// MaintenanceService runs the periodic cleanup jobs.
type MaintenanceService struct {
	orders         OrderStore
	carts          CartStore
	status         *OrderStatusService
	payments       PaymentProvider
	clock          clock.Clock
	logger         *slog.Logger
	pendingTTL     time.Duration
	cartInactivity time.Duration
}

type MaintenanceOption func(*MaintenanceService)

// WithPendingOrderTTL sets how long an order may stay pending.
func WithPendingOrderTTL(d time.Duration) MaintenanceOption {
	return func(s *MaintenanceService) {
		if d > 0 {
			s.pendingTTL = d
		}
	}
}

// WithCartInactivity sets how long an untouched cart is kept.
func WithCartInactivity(d time.Duration) MaintenanceOption {
	return func(s *MaintenanceService) {
		if d > 0 {
			s.cartInactivity = d
		}
	}
}

func NewMaintenanceService(orders OrderStore, carts CartStore, status *OrderStatusService, payments PaymentProvider, clk clock.Clock, logger *slog.Logger, opts ...MaintenanceOption) *MaintenanceService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MaintenanceService{
		orders:         orders,
		carts:          carts,
		status:         status,
		payments:       payments,
		clock:          clk,
		logger:         logger,
		pendingTTL:     defaultPendingOrderTTL,
		cartInactivity: defaultCartInactivity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CancelStalePendingOrders cancels orders left pending past the TTL. Each
// order is handled in its own transaction so one failure does not block the
// batch.
func (s *MaintenanceService) CancelStalePendingOrders(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.pendingTTL)
	ids, err := s.orders.ListStalePending(ctx, cutoff, staleOrderBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	canceled := 0
	var errs []error
	for _, id := range ids {
		res, err := s.status.ChangeStatus(ctx, id, domain.OrderStatusPending, domain.OrderStatusCanceled)
		if err != nil {
			s.logger.Error("auto-cancel failed", "order_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		if !res.Changed {
			continue
		}
		canceled++
		cancelIntentBestEffort(ctx, s.payments, s.logger, res.Order.PaymentIntentID)
	}
	if canceled > 0 {
		s.logger.Info("auto-canceled stale pending orders", "count", canceled)
	}
	return canceled, errors.Join(errs...)
}

// PurgeInactiveCarts deletes carts untouched for the inactivity window.
func (s *MaintenanceService) PurgeInactiveCarts(ctx context.Context) (int64, error) {
	n, err := s.carts.PurgeInactiveCarts(ctx, s.clock.Now().Add(-s.cartInactivity))
	if err != nil {
		return 0, fmt.Errorf("purge carts: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged inactive carts", "count", n)
	}
	return n, nil
}
