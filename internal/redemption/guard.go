// Package redemption guarantees that a single-use resource is claimed by at
// most one caller, whichever way the backing store can enforce it.
package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
)

// ErrNotClaimable is returned to every caller that did not win the claim.
var ErrNotClaimable = domain.ErrNotClaimable

// Claim identifies the resource and the party claiming it.
type Claim struct {
	// Key is the resource identifier: a discount id or a gift card code.
	Key     string
	UserID  string
	OrderID string
	At      time.Time
}

// Store can claim with one conditional write whose predicate repeats the
// claimability check. It reports false when no row matched.
type Store interface {
	ClaimIfClaimable(ctx context.Context, c Claim) (bool, error)
}

// Locker is a Store that can also hold row locks for the duration of a
// transaction.
type Locker interface {
	Store
	SupportsRowLocks() bool
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockClaimable locks the candidate row and re-checks the predicate on
	// the locked version. It reports false when the row is gone or no
	// longer claimable.
	LockClaimable(ctx context.Context, c Claim) (bool, error)
	ApplyClaim(ctx context.Context, c Claim) error
}

// Guard claims a resource exactly once.
type Guard interface {
	Claim(ctx context.Context, c Claim) error
	Strategy() string
}

const (
	StrategyPessimistic = "pessimistic"
	StrategyConditional = "conditional"
)

// New picks the pessimistic strategy when the store can lock rows and the
// conditional one otherwise.
func New(store Store) Guard {
	if l, ok := store.(Locker); ok && l.SupportsRowLocks() {
		return pessimistic{store: l}
	}
	return conditional{store: store}
}

type pessimistic struct {
	store Locker
}

func (g pessimistic) Strategy() string { return StrategyPessimistic }

func (g pessimistic) Claim(ctx context.Context, c Claim) error {
	return g.store.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := g.store.LockClaimable(txCtx, c)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotClaimable
		}
		return g.store.ApplyClaim(txCtx, c)
	})
}

type conditional struct {
	store Store
}

func (g conditional) Strategy() string { return StrategyConditional }

func (g conditional) Claim(ctx context.Context, c Claim) error {
	ok, err := g.store.ClaimIfClaimable(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotClaimable
	}
	return nil
}

// IsNotClaimable reports whether err means another caller already won.
func IsNotClaimable(err error) bool {
	return errors.Is(err, ErrNotClaimable)
}
