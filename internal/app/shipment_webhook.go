package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cimillas/checkout-engine/internal/clock"
	"github.com/cimillas/checkout-engine/internal/domain"
)

// SignatureVerifier authenticates a signed body against its timestamp.
type SignatureVerifier interface {
	Verify(body []byte, signature, timestamp string) error
}

type ShipmentWebhookService struct {
	tx       Transactor
	verifier SignatureVerifier
	webhooks WebhookStore
	orders   OrderStore
	status   *OrderStatusService
	clock    clock.Clock
	logger   *slog.Logger
}

func NewShipmentWebhookService(tx Transactor, verifier SignatureVerifier, webhooks WebhookStore, orders OrderStore, status *OrderStatusService, clk clock.Clock, logger *slog.Logger) *ShipmentWebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShipmentWebhookService{
		tx:       tx,
		verifier: verifier,
		webhooks: webhooks,
		orders:   orders,
		status:   status,
		clock:    clk,
		logger:   logger,
	}
}

type shipmentPayload struct {
	EventID     string `json:"event_id"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	ShippedDate string `json:"shipped_date"`
}

// ShipmentEvent is a validated carrier callback.
type ShipmentEvent struct {
	EventID     string
	OrderID     string
	Status      domain.OrderStatus
	ShippedDate *time.Time
}

func parseShipmentEvent(body []byte) (ShipmentEvent, error) {
	var p shipmentPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return ShipmentEvent{}, domain.ErrInvalidPayload
	}
	p.EventID = strings.TrimSpace(p.EventID)
	p.OrderID = strings.TrimSpace(p.OrderID)
	if p.EventID == "" || p.OrderID == "" || p.Status == "" {
		return ShipmentEvent{}, domain.ErrInvalidPayload
	}
	status, err := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(p.Status)))
	if err != nil {
		return ShipmentEvent{}, err
	}

	ev := ShipmentEvent{EventID: p.EventID, OrderID: p.OrderID, Status: status}
	if p.ShippedDate != "" {
		t, err := time.Parse(time.RFC3339, p.ShippedDate)
		if err != nil {
			return ShipmentEvent{}, domain.ErrInvalidPayload
		}
		t = t.UTC()
		ev.ShippedDate = &t
	}
	return ev, nil
}

// HandleShipmentEvent verifies a carrier callback and applies it to its
// order once per event id.
func (s *ShipmentWebhookService) HandleShipmentEvent(ctx context.Context, body []byte, signature, timestamp string) (WebhookOutcome, error) {
	if s.verifier == nil {
		return "", domain.ErrNotConfigured
	}
	if err := s.verifier.Verify(body, signature, timestamp); err != nil {
		return "", err
	}
	ev, err := parseShipmentEvent(body)
	if err != nil {
		return "", err
	}

	var outcome WebhookOutcome
	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.GetOrderForUpdate(txCtx, ev.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidID) {
				return domain.ErrOrderNotFound
			}
			return err
		}
		recorded, err := s.webhooks.RecordEvent(txCtx, domain.WebhookEvent{
			EventID:    ev.EventID,
			Source:     domain.WebhookSourceShipment,
			Type:       string(ev.Status),
			OrderID:    order.ID,
			ReceivedAt: s.clock.Now(),
		})
		if err != nil {
			return err
		}
		if !recorded {
			outcome = OutcomeDuplicate
			return nil
		}
		res, err := s.status.Transition(txCtx, order, ev.Status, ev.ShippedDate)
		if errors.Is(err, domain.ErrIllegalTransition) {
			// Retrying cannot make it legal; keep the record so the carrier stops.
			s.logger.Warn("shipment event not applicable to order", "event_id", ev.EventID, "order_id", order.ID, "from", order.Status, "to", ev.Status)
			outcome = OutcomeIgnored
			return nil
		}
		if err != nil {
			return err
		}
		outcome = OutcomeApplied
		if !res.Changed {
			outcome = OutcomeIgnored
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("shipment webhook processed", "event_id", ev.EventID, "order_id", ev.OrderID, "status", ev.Status, "outcome", outcome)
	return outcome, nil
}
