package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// txScope is the outermost transaction plus the callbacks queued against it.
type txScope struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
}

// TxManager opens transactions and carries them through the context so that
// every repository call made with that context joins the same transaction.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, m.pool, fn)
}

// AfterCommit queues fn to run once the outermost transaction commits. It is
// dropped on rollback. Outside a transaction fn runs immediately.
func (m *TxManager) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	afterCommit(ctx, fn)
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if scopeFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	scope := &txScope{tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, scope)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range scope.hooks {
		hook(hookCtx)
	}
	return nil
}

func afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if scope := scopeFromContext(ctx); scope != nil {
		scope.hooks = append(scope.hooks, fn)
		return
	}
	fn(ctx)
}

func scopeFromContext(ctx context.Context) *txScope {
	scope, _ := ctx.Value(txKey{}).(*txScope)
	return scope
}

func txFromContext(ctx context.Context) pgx.Tx {
	if scope := scopeFromContext(ctx); scope != nil {
		return scope.tx
	}
	return nil
}

// querier routes statements to the context transaction when there is one.
type querier struct {
	pool *pgxpool.Pool
}

func (q querier) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, q.pool, fn)
}

func (q querier) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return q.pool.Exec(ctx, sql, args...)
}

func (q querier) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return q.pool.QueryRow(ctx, sql, args...)
}

func (q querier) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return q.pool.Query(ctx, sql, args...)
}

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == "23505"
}

func isInvalidUUID(err error) bool {
	code, _ := pgErrorCode(err)
	return code == "22P02"
}

func isCheckViolation(err error) bool {
	code, _ := pgErrorCode(err)
	return code == "23514"
}
