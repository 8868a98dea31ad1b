package postgres

import (
	"context"
	"fmt"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepository is the durable dedup ledger for both webhook sources.
type WebhookRepository struct {
	querier
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{querier{pool: pool}}
}

// RecordEvent inserts the event id and reports false when it was already
// recorded. Run it in the same transaction as the effect it guards.
func (r *WebhookRepository) RecordEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	var (
		stmt string
		args []any
	)
	switch ev.Source {
	case domain.WebhookSourcePayment:
		stmt = `
INSERT INTO payment_webhook_events (event_id, event_type, received_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id) DO NOTHING`
		args = []any{ev.EventID, ev.Type, ev.ReceivedAt}
	case domain.WebhookSourceShipment:
		stmt = `
INSERT INTO shipment_webhook_events (event_id, order_id, status, received_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING`
		args = []any{ev.EventID, ev.OrderID, ev.Type, ev.ReceivedAt}
	default:
		return false, fmt.Errorf("record webhook event: unknown source %q", ev.Source)
	}

	tag, err := r.exec(ctx, stmt, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrOrderNotFound
		}
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
