package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// WebhookOutcome says what happened to an accepted webhook event.
type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

// PaymentEvent is a verified provider event reduced to what reconciliation
// needs.
type PaymentEvent struct {
	ID       string
	Type     string
	IntentID string
	Amount   int64
	Currency string
	// OrderID comes from intent metadata and may be empty.
	OrderID string
}

// validate rejects events that can never be reconciled, before they reach
// the dedup ledger.
func (ev PaymentEvent) validate() error {
	if ev.ID == "" || ev.Type == "" {
		return domain.ErrInvalidPayload
	}
	switch ev.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		if ev.IntentID == "" {
			return domain.ErrInvalidPayload
		}
	}
	return nil
}

// PaymentEventVerifier authenticates a raw webhook body.
type PaymentEventVerifier interface {
	Verify(payload []byte, signatureHeader string) (PaymentEvent, error)
}

type PaymentWebhookService struct {
	tx       Transactor
	verifier PaymentEventVerifier
	webhooks WebhookStore
	orders   OrderStore
	status   *OrderStatusService
	clock    clock.Clock
	logger   *slog.Logger
}

func NewPaymentWebhookService(tx Transactor, verifier PaymentEventVerifier, webhooks WebhookStore, orders OrderStore, status *OrderStatusService, clk clock.Clock, logger *slog.Logger) *PaymentWebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentWebhookService{
		tx:       tx,
		verifier: verifier,
		webhooks: webhooks,
		orders:   orders,
		status:   status,
		clock:    clk,
		logger:   logger,
	}
}

// HandlePaymentEvent verifies and applies one provider event. The dedup
// record and any resulting transition commit together.
func (s *PaymentWebhookService) HandlePaymentEvent(ctx context.Context, payload []byte, signatureHeader string) (WebhookOutcome, error) {
	if s.verifier == nil {
		return "", domain.ErrNotConfigured
	}
	ev, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		return "", err
	}
	if err := ev.validate(); err != nil {
		return "", err
	}

	var outcome WebhookOutcome
	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		recorded, err := s.webhooks.RecordEvent(txCtx, domain.WebhookEvent{
			EventID:    ev.ID,
			Source:     domain.WebhookSourcePayment,
			Type:       ev.Type,
			ReceivedAt: s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !recorded {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome, err = s.apply(txCtx, ev)
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("payment webhook processed", "event_id", ev.ID, "type", ev.Type, "outcome", outcome)
	return outcome, nil
}

func (s *PaymentWebhookService) apply(ctx context.Context, ev PaymentEvent) (WebhookOutcome, error) {
	var next domain.OrderStatus
	var from []domain.OrderStatus
	switch ev.Type {
	case EventPaymentSucceeded:
		next = domain.OrderStatusProcessing
		from = []domain.OrderStatus{domain.OrderStatusPending}
	case EventPaymentFailed:
		next = domain.OrderStatusFailed
		from = []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusProcessing}
	default:
		return OutcomeIgnored, nil
	}

	order, ok, err := s.resolveOrder(ctx, ev)
	if err != nil || !ok {
		return OutcomeIgnored, err
	}
	currencyMismatch := ev.Currency != "" && domain.NormalizeCurrency(ev.Currency) != order.Currency
	if domain.ToMinorUnits(order.TotalPrice) != ev.Amount || currencyMismatch {
		s.logger.Warn("payment event amount mismatch", "event_id", ev.ID, "order_id", order.ID,
			"event_amount", ev.Amount, "event_currency", ev.Currency,
			"order_total", order.TotalPrice.StringFixed(2), "order_currency", order.Currency)
		return OutcomeIgnored, nil
	}
	if !statusIn(order.Status, from) {
		return OutcomeIgnored, nil
	}

	if _, err := s.status.Transition(ctx, order, next, nil); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// resolveOrder locks the event's order. Metadata order id wins when present,
// but only if the intent matches; otherwise fall back to the intent id.
func (s *PaymentWebhookService) resolveOrder(ctx context.Context, ev PaymentEvent) (domain.Order, bool, error) {
	if ev.OrderID != "" {
		order, err := s.orders.GetOrderForUpdate(ctx, ev.OrderID)
		switch {
		case err == nil:
			if order.PaymentIntentID != ev.IntentID {
				s.logger.Warn("payment event intent does not match order", "event_id", ev.ID, "order_id", order.ID, "payment_intent_id", ev.IntentID)
				return domain.Order{}, false, nil
			}
			return order, true, nil
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInvalidID):
		default:
			return domain.Order{}, false, err
		}
	}
	if ev.IntentID == "" {
		return domain.Order{}, false, nil
	}

	order, err := s.orders.GetOrderByPaymentIntentForUpdate(ctx, ev.IntentID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.logger.Warn("payment event for unknown order", "event_id", ev.ID, "payment_intent_id", ev.IntentID)
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return order, true, nil
}

func statusIn(s domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
