package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/cimillas/checkout-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxManager_AfterCommit(t *testing.T) {
	pool := testutil.NewTestPool(t)
	tx := NewTxManager(pool)
	ctx := context.Background()

	t.Run("hooks run after the outermost commit", func(t *testing.T) {
		var ran []string
		err := tx.WithTx(ctx, func(outer context.Context) error {
			tx.AfterCommit(outer, func(context.Context) { ran = append(ran, "outer") })
			err := tx.WithTx(outer, func(inner context.Context) error {
				tx.AfterCommit(inner, func(context.Context) { ran = append(ran, "inner") })
				return nil
			})
			assert.Empty(t, ran)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"outer", "inner"}, ran)
	})

	t.Run("hooks are dropped on rollback", func(t *testing.T) {
		ran := false
		err := tx.WithTx(ctx, func(txCtx context.Context) error {
			tx.AfterCommit(txCtx, func(context.Context) { ran = true })
			return errors.New("rollback")
		})
		require.Error(t, err)
		assert.False(t, ran)
	})

	t.Run("outside a transaction hooks run immediately", func(t *testing.T) {
		ran := false
		tx.AfterCommit(ctx, func(context.Context) { ran = true })
		assert.True(t, ran)
	})
}
