package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cimillas/checkout-engine/internal/app"
	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client the broadcaster uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type channelMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// RedisBroadcaster pushes status updates to the per-order channel that
// connected clients subscribe to.
type RedisBroadcaster struct {
	client Publisher
}

func NewRedisBroadcaster(client Publisher) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

var _ app.Notifier = (*RedisBroadcaster)(nil)

// OrderChannel names the pub/sub channel for one order.
func OrderChannel(orderID string) string {
	return "order_" + orderID
}

func (b *RedisBroadcaster) OrderStatusChanged(ctx context.Context, change app.StatusChange) error {
	payload, err := json.Marshal(channelMessage{
		Type:    "status.update",
		OrderID: change.OrderID,
		Status:  string(change.To),
	})
	if err != nil {
		return fmt.Errorf("marshal channel message: %w", err)
	}
	if err := b.client.Publish(ctx, OrderChannel(change.OrderID), payload).Err(); err != nil {
		return fmt.Errorf("publish status to redis: %w", err)
	}
	return nil
}
