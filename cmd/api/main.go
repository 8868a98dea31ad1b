package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/cimillas/checkout-engine/internal/auth"
	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/config"
	"github.com/cimillas/checkout-engine/internal/metrics"
	"github.com/cimillas/checkout-engine/internal/notify"
	"github.com/cimillas/checkout-engine/internal/payment/stripe"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/cimillas/checkout-engine/internal/storage/dynamo"
	"github.com/cimillas/checkout-engine/internal/storage/postgres"
	transporthttp "github.com/cimillas/checkout-engine/internal/transport/http"
	"github.com/cimillas/checkout-engine/internal/webhook"
	"github.com/cimillas/checkout-engine/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	shutdownTimeout = 10 * time.Second
	tokenTTL        = 24 * time.Hour
	maxDBConns      = 20
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	config.LoadEnvFile(logger)
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(startupCtx, cfg.DatabaseURL, maxDBConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Apply(startupCtx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	clk := clock.NewSystem()
	tx := postgres.NewTxManager(pool)
	carts := postgres.NewCartRepository(pool)
	products := postgres.NewProductRepository(pool)
	orders := postgres.NewOrderRepository(pool)
	discounts := postgres.NewDiscountRepository(pool)
	webhooks := postgres.NewWebhookRepository(pool)

	giftCards, err := giftCardStore(startupCtx, cfg, pool, logger)
	if err != nil {
		return err
	}

	var payments app.PaymentProvider
	var paymentVerifier app.PaymentEventVerifier
	if cfg.StripeSecretKey != "" {
		payments = stripe.NewProvider(cfg.StripeSecretKey)
	}
	if cfg.PaymentWebhookEnabled() {
		paymentVerifier = stripe.NewVerifier(cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance)
	} else if cfg.StripeWebhookSecret != "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment webhook will return 503")
	}
	var shipmentVerifier app.SignatureVerifier
	if cfg.ShipmentWebhookSecret != "" {
		shipmentVerifier = webhook.NewVerifier(cfg.ShipmentWebhookSecret, cfg.ShipmentWebhookTolerance, clk)
	}

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

	discountGuard := redemption.New(discounts)
	giftCardGuard := redemption.New(giftCards)
	logger.Info("redemption strategies", "discounts", discountGuard.Strategy(), "gift_cards", giftCardGuard.Strategy())

	status := app.NewOrderStatusService(tx, orders, products, notifier, clk, logger)
	checkoutSvc := app.NewCheckoutService(app.CheckoutDeps{
		Tx:          tx,
		Carts:       carts,
		Products:    products,
		Ledger:      products,
		Orders:      orders,
		Discounts:   discounts,
		Redemptions: discountGuard,
		Payments:    payments,
	}, clk, logger)
	orderSvc := app.NewOrderService(tx, orders, status, payments, logger)
	giftCardSvc := app.NewGiftCardService(giftCards, giftCardGuard, clk, logger)

	deps := transporthttp.RouterDeps{
		Checkout:               checkoutSvc,
		Orders:                 orderSvc,
		GiftCards:              giftCardSvc,
		PaymentSignatureHeader: stripe.SignatureHeader,
		ShipmentHeaders: transporthttp.WebhookHeaders{
			Signature: webhook.SignatureHeader,
			Timestamp: webhook.TimestampHeader,
		},
		DB:          pool,
		Metrics:     metrics.New(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	}
	if paymentVerifier != nil {
		deps.PaymentWebhook = app.NewPaymentWebhookService(tx, paymentVerifier, webhooks, orders, status, clk, logger)
	}
	if shipmentVerifier != nil {
		deps.ShipmentWebhook = app.NewShipmentWebhookService(tx, shipmentVerifier, webhooks, orders, status, clk, logger)
	}
	if cfg.JWTSecret != "" {
		deps.Tokens = auth.NewTokenService(cfg.JWTSecret, tokenTTL, clk)
	} else {
		logger.Warn("JWT_SECRET not set, authenticated endpoints will return 503")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           transporthttp.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", "addr", server.Addr)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

type giftCardBackend interface {
	app.GiftCardStore
	redemption.Store
}

// giftCardStore picks the backend named by GIFTCARD_BACKEND. The
// redemption strategy follows from what the backend can do.
func giftCardStore(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (giftCardBackend, error) {
	switch cfg.GiftCardBackend {
	case config.GiftCardBackendDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		logger.Info("gift cards stored in dynamodb", "table", cfg.GiftCardTable)
		return dynamo.NewGiftCardStore(client, cfg.GiftCardTable), nil
	default:
		return postgres.NewGiftCardRepository(pool), nil
	}
}
