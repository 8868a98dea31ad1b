package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewWebhookRepository(pool)
	orders := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("RecordEvent deduplicates per source", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		ev := domain.WebhookEvent{EventID: "evt_1", Source: domain.WebhookSourcePayment, Type: "payment_intent.succeeded", ReceivedAt: time.Now()}
		ok, err := repo.RecordEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.RecordEvent(ctx, ev)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rolled back shipment event is not recorded", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, testutil.Product{Name: "Mug", Price: "10.00", Inventory: 5})
		order := newTestOrder("user-1", "", productID)
		require.NoError(t, orders.CreateOrder(ctx, order))

		ev := domain.WebhookEvent{EventID: "ship_1", Source: domain.WebhookSourceShipment, Type: "shipped", OrderID: order.ID, ReceivedAt: time.Now()}
		boom := errors.New("boom")
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			ok, err := repo.RecordEvent(txCtx, ev)
			require.NoError(t, err)
			require.True(t, ok)
			return boom
		})
		require.ErrorIs(t, err, boom)

		ok, err := repo.RecordEvent(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
