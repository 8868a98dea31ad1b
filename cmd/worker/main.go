package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/config"
	"github.com/cimillas/checkout-engine/internal/notify"
	"github.com/cimillas/checkout-engine/internal/payment/stripe"
	"github.com/cimillas/checkout-engine/internal/storage/postgres"
	"github.com/cimillas/checkout-engine/internal/worker"
)

const maxDBConns = 4

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	config.LoadEnvFile(logger)
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Migrations are owned by the api process.
	pool, err := postgres.NewPool(startupCtx, cfg.DatabaseURL, maxDBConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	notifier, closeNotifier, err := notify.Open(startupCtx, notify.Sinks{
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaStatusTopic,
		RedisURL:     cfg.RedisURL,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("close notifiers", "error", err)
		}
	}()

	var payments app.PaymentProvider
	if cfg.StripeSecretKey != "" {
		payments = stripe.NewProvider(cfg.StripeSecretKey)
	}

	clk := clock.NewSystem()
	tx := postgres.NewTxManager(pool)
	orders := postgres.NewOrderRepository(pool)
	products := postgres.NewProductRepository(pool)
	status := app.NewOrderStatusService(tx, orders, products, notifier, clk, logger)
	maintenance := app.NewMaintenanceService(
		orders,
		postgres.NewCartRepository(pool),
		status,
		payments,
		clk,
		logger,
		app.WithPendingOrderTTL(cfg.PendingOrderTTL),
		app.WithCartInactivity(time.Duration(cfg.CartInactivityDays)*24*time.Hour),
	)

	runner := worker.NewRunner(logger,
		worker.Job{
			Name:     "cancel_stale_pending_orders",
			Interval: cfg.MaintenanceInterval,
			Run: func(ctx context.Context) error {
				_, err := maintenance.CancelStalePendingOrders(ctx)
				return err
			},
		},
		worker.Job{
			Name:     "purge_inactive_carts",
			Interval: cfg.MaintenanceInterval,
			Run: func(ctx context.Context) error {
				_, err := maintenance.PurgeInactiveCarts(ctx)
				return err
			},
		},
	)

	logger.Info("worker started", "interval", cfg.MaintenanceInterval)
	runner.Run(ctx)
	logger.Info("worker stopped")
	return nil
}
