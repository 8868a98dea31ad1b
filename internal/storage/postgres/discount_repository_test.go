package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
	"github.com/cimillas/checkout-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conditionalOnly hides the row-lock capability so New picks the
// conditional strategy.
type conditionalOnly struct {
	redemption.Store
}

func TestDiscountRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewDiscountRepository(pool)
	orders := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("GetDiscountByCode normalizes the code and loads scope", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, testutil.Product{Name: "Mug", Price: "10.00", Inventory: 5})
		testutil.InsertDiscount(t, ctx, pool, testutil.Discount{
			Code: "SAVE10", Type: "percentage", Value: "10", ProductIDs: []string{productID},
		})

		d, err := repo.GetDiscountByCode(ctx, "  save10 ")
		require.NoError(t, err)
		assert.Equal(t, domain.DiscountTypePercentage, d.Type)
		assert.Equal(t, []string{productID}, d.ProductIDs)
		assert.Empty(t, d.CategoryIDs)
		assert.Nil(t, d.MaxUses)

		_, err = repo.GetDiscountByCode(ctx, "NOPE")
		assert.ErrorIs(t, err, domain.ErrDiscountNotFound)
	})

	strategies := map[string]redemption.Guard{
		redemption.StrategyPessimistic: redemption.New(repo),
		redemption.StrategyConditional: redemption.New(conditionalOnly{repo}),
	}
	for name, guard := range strategies {
		guard := guard
		t.Run(name+" claim admits exactly one winner for a single-use code", func(t *testing.T) {
			require.Equal(t, name, guard.Strategy())
			ctx := context.Background()
			testutil.TruncateAll(t, ctx, pool)
			productID := testutil.InsertProduct(t, ctx, pool, testutil.Product{Name: "Mug", Price: "10.00", Inventory: 50})
			one := 1
			discountID := testutil.InsertDiscount(t, ctx, pool, testutil.Discount{
				Code: "ONCE", Type: "fixed", Value: "5", MaxUses: &one,
			})

			const racers = 8
			orderIDs := make([]string, racers)
			for i := range orderIDs {
				o := newTestOrder("user-1", "", productID)
				require.NoError(t, orders.CreateOrder(ctx, o))
				orderIDs[i] = o.ID
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for _, orderID := range orderIDs {
				orderID := orderID
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := guard.Claim(ctx, redemption.Claim{
						Key: discountID, UserID: "user-1", OrderID: orderID, At: time.Now(),
					})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					if !redemption.IsNotClaimable(err) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			d, err := repo.GetDiscountByCode(ctx, "ONCE")
			require.NoError(t, err)
			assert.Equal(t, 1, d.TimesUsed)
			n, err := repo.CountUserRedemptions(ctx, discountID, "user-1")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}

	t.Run("per-user cap is enforced on the locked row", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		productID := testutil.InsertProduct(t, ctx, pool, testutil.Product{Name: "Mug", Price: "10.00", Inventory: 50})
		one := 1
		discountID := testutil.InsertDiscount(t, ctx, pool, testutil.Discount{
			Code: "PERUSER", Type: "fixed", Value: "5", MaxUsesPerUser: &one,
		})
		guard := redemption.New(repo)

		first := newTestOrder("user-1", "", productID)
		second := newTestOrder("user-1", "", productID)
		other := newTestOrder("user-2", "", productID)
		for _, o := range []domain.Order{first, second, other} {
			require.NoError(t, orders.CreateOrder(ctx, o))
		}

		require.NoError(t, guard.Claim(ctx, redemption.Claim{Key: discountID, UserID: "user-1", OrderID: first.ID, At: time.Now()}))
		err := guard.Claim(ctx, redemption.Claim{Key: discountID, UserID: "user-1", OrderID: second.ID, At: time.Now()})
		assert.True(t, redemption.IsNotClaimable(err))
		require.NoError(t, guard.Claim(ctx, redemption.Claim{Key: discountID, UserID: "user-2", OrderID: other.ID, At: time.Now()}))
	})
}
