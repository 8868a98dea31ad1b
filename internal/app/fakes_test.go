package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/checkout-engine/internal/domain"
	"github.com/cimillas/checkout-engine/internal/redemption"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTxKey struct{}

type fakeScope struct {
	hooks []func(ctx context.Context)
}

// fakeDB is an in-memory store. One mutex held for the whole transaction
// stands in for row locks; a failed transaction restores the snapshot taken
// at begin.
type fakeDB struct {
	mu sync.Mutex

	carts       map[string]*domain.Cart
	products    map[string]domain.Product
	orders      map[string]domain.Order
	discounts   map[string]domain.Discount
	redemptions []domain.DiscountRedemption
	events      map[string]domain.WebhookEvent

	failCreateOrder error
	failReserve     error
	commits         int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		carts:     make(map[string]*domain.Cart),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		discounts: make(map[string]domain.Discount),
		events:    make(map[string]domain.WebhookEvent),
	}
}

type fakeSnapshot struct {
	carts       map[string]*domain.Cart
	products    map[string]domain.Product
	orders      map[string]domain.Order
	discounts   map[string]domain.Discount
	redemptions []domain.DiscountRedemption
	events      map[string]domain.WebhookEvent
}

func (f *fakeDB) snapshot() fakeSnapshot {
	s := fakeSnapshot{
		carts:       make(map[string]*domain.Cart, len(f.carts)),
		products:    make(map[string]domain.Product, len(f.products)),
		orders:      make(map[string]domain.Order, len(f.orders)),
		discounts:   make(map[string]domain.Discount, len(f.discounts)),
		redemptions: append([]domain.DiscountRedemption(nil), f.redemptions...),
		events:      make(map[string]domain.WebhookEvent, len(f.events)),
	}
	for k, v := range f.carts {
		c := *v
		c.Items = append([]domain.CartItem(nil), v.Items...)
		s.carts[k] = &c
	}
	for k, v := range f.products {
		s.products[k] = v
	}
	for k, v := range f.orders {
		s.orders[k] = v
	}
	for k, v := range f.discounts {
		s.discounts[k] = v
	}
	for k, v := range f.events {
		s.events[k] = v
	}
	return s
}

func (f *fakeDB) restore(s fakeSnapshot) {
	f.carts = s.carts
	f.products = s.products
	f.orders = s.orders
	f.discounts = s.discounts
	f.redemptions = s.redemptions
	f.events = s.events
}

func inTx(ctx context.Context) bool {
	return ctx.Value(fakeTxKey{}) != nil
}

func (f *fakeDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	f.mu.Lock()
	snap := f.snapshot()
	scope := &fakeScope{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, scope))
	if err != nil {
		f.restore(snap)
		f.mu.Unlock()
		return err
	}
	f.commits++
	f.mu.Unlock()

	for _, hook := range scope.hooks {
		hook(context.WithoutCancel(ctx))
	}
	return nil
}

func (f *fakeDB) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if scope, ok := ctx.Value(fakeTxKey{}).(*fakeScope); ok {
		scope.hooks = append(scope.hooks, fn)
		return
	}
	fn(ctx)
}

// read runs fn under the mutex unless ctx already holds it.
func (f *fakeDB) read(ctx context.Context, fn func()) {
	if inTx(ctx) {
		fn()
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

// CartStore

func (f *fakeDB) getCart(userID string) (domain.Cart, error) {
	c, ok := f.carts[userID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	out := *c
	out.Items = append([]domain.CartItem(nil), c.Items...)
	return out, nil
}

func (f *fakeDB) GetCartByUser(ctx context.Context, userID string) (cart domain.Cart, err error) {
	f.read(ctx, func() { cart, err = f.getCart(userID) })
	return
}

func (f *fakeDB) LockCartByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if !inTx(ctx) {
		return domain.Cart{}, fmt.Errorf("lock cart outside tx")
	}
	return f.getCart(userID)
}

func (f *fakeDB) ClearCart(ctx context.Context, cartID string) error {
	for _, c := range f.carts {
		if c.ID == cartID {
			c.Items = nil
			return nil
		}
	}
	return domain.ErrCartNotFound
}

func (f *fakeDB) PurgeInactiveCarts(ctx context.Context, before time.Time) (n int64, err error) {
	f.read(ctx, func() {
		for k, c := range f.carts {
			if c.UpdatedAt.Before(before) {
				delete(f.carts, k)
				n++
			}
		}
	})
	return
}

// ProductReader and InventoryLedger

func (f *fakeDB) pickProducts(ids []string) map[string]domain.Product {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out
}

func (f *fakeDB) GetProducts(ctx context.Context, ids []string) (out map[string]domain.Product, err error) {
	f.read(ctx, func() { out = f.pickProducts(ids) })
	return
}

func (f *fakeDB) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if !inTx(ctx) {
		return nil, fmt.Errorf("lock products outside tx")
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return f.pickProducts(sorted), nil
}

func (f *fakeDB) Reserve(ctx context.Context, productID string, qty int) error {
	if f.failReserve != nil {
		return f.failReserve
	}
	p, ok := f.products[productID]
	if !ok || p.Inventory < qty {
		return domain.ErrInsufficientInventory
	}
	p.Inventory -= qty
	f.products[productID] = p
	return nil
}

func (f *fakeDB) Release(ctx context.Context, productID string, qty int) error {
	p, ok := f.products[productID]
	if !ok {
		return fmt.Errorf("product %s not found", productID)
	}
	p.Inventory += qty
	f.products[productID] = p
	return nil
}

// OrderStore

func (f *fakeDB) findByKey(userID, key string) *domain.Order {
	for _, o := range f.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			out := o
			return &out
		}
	}
	return nil
}

func (f *fakeDB) FindByIdempotencyKey(ctx context.Context, userID, key string) (o *domain.Order, err error) {
	f.read(ctx, func() { o = f.findByKey(userID, key) })
	return
}

func (f *fakeDB) CreateOrder(ctx context.Context, order domain.Order) error {
	if f.failCreateOrder != nil {
		return f.failCreateOrder
	}
	if order.IdempotencyKey != "" && f.findByKey(order.UserID, order.IdempotencyKey) != nil {
		return domain.ErrDuplicateOrder
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeDB) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (ok bool, err error) {
	f.read(ctx, func() {
		o, found := f.orders[orderID]
		if !found || o.PaymentIntentID != "" {
			return
		}
		o.PaymentIntentID = intentID
		f.orders[orderID] = o
		ok = true
	})
	return
}

func (f *fakeDB) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeDB) GetOrderByPaymentIntentForUpdate(ctx context.Context, intentID string) (domain.Order, error) {
	for _, o := range f.orders {
		if o.PaymentIntentID == intentID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (f *fakeDB) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, shippedDate *time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	o.ShippedDate = shippedDate
	f.orders[orderID] = o
	return nil
}

func (f *fakeDB) ListStalePending(ctx context.Context, before time.Time, limit int) (ids []string, err error) {
	f.read(ctx, func() {
		for id, o := range f.orders {
			if o.Status == domain.OrderStatusPending && o.CreatedAt.Before(before) {
				ids = append(ids, id)
			}
		}
	})
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return
}

func (f *fakeDB) order(id string) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeDB) product(id string) domain.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id]
}

// DiscountStore and redemption.Locker

func (f *fakeDB) GetDiscountByCode(ctx context.Context, code string) (d domain.Discount, err error) {
	f.read(ctx, func() {
		var ok bool
		if d, ok = f.discounts[code]; !ok {
			err = domain.ErrDiscountNotFound
		}
	})
	return
}

func (f *fakeDB) countRedemptions(discountID, userID string) int {
	n := 0
	for _, r := range f.redemptions {
		if r.DiscountID == discountID && r.UserID == userID {
			n++
		}
	}
	return n
}

func (f *fakeDB) CountUserRedemptions(ctx context.Context, discountID, userID string) (n int, err error) {
	f.read(ctx, func() { n = f.countRedemptions(discountID, userID) })
	return
}

func (f *fakeDB) discountByID(id string) (domain.Discount, bool) {
	for _, d := range f.discounts {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Discount{}, false
}

type fakeDiscountLocker struct {
	*fakeDB
}

func (l fakeDiscountLocker) SupportsRowLocks() bool { return true }

func (l fakeDiscountLocker) LockClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	d, ok := l.discountByID(c.Key)
	if !ok || !d.IsAvailable(c.At) {
		return false, nil
	}
	if d.MaxUsesPerUser != nil && l.countRedemptions(d.ID, c.UserID) >= *d.MaxUsesPerUser {
		return false, nil
	}
	return true, nil
}

func (l fakeDiscountLocker) ApplyClaim(ctx context.Context, c redemption.Claim) error {
	for _, r := range l.redemptions {
		if r.OrderID == c.OrderID {
			return domain.ErrAlreadyRedeemed
		}
	}
	d, _ := l.discountByID(c.Key)
	d.TimesUsed++
	l.discounts[d.Code] = d
	l.redemptions = append(l.redemptions, domain.DiscountRedemption{
		DiscountID: d.ID, UserID: c.UserID, OrderID: c.OrderID, RedeemedAt: c.At,
	})
	return nil
}

func (l fakeDiscountLocker) ClaimIfClaimable(ctx context.Context, c redemption.Claim) (bool, error) {
	var ok bool
	err := l.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if ok, err = l.LockClaimable(txCtx, c); err != nil || !ok {
			return err
		}
		return l.ApplyClaim(txCtx, c)
	})
	return ok, err
}

// WebhookStore

func (f *fakeDB) RecordEvent(ctx context.Context, ev domain.WebhookEvent) (bool, error) {
	key := string(ev.Source) + ":" + ev.EventID
	if _, ok := f.events[key]; ok {
		return false, nil
	}
	f.events[key] = ev
	return true, nil
}

func (f *fakeDB) eventCount(source domain.WebhookSource) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Source == source {
			n++
		}
	}
	return n
}

// fakePayments returns one intent per idempotency token.
type fakePayments struct {
	mu        sync.Mutex
	byToken   map[string]PaymentIntent
	canceled  map[string]bool
	metadata  map[string]map[string]string
	created   int
	createErr error
	updateErr error
	// onCreate runs after an intent is created, between the optimistic and
	// locked pricing passes.
	onCreate func()
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		byToken:  make(map[string]PaymentIntent),
		canceled: make(map[string]bool),
		metadata: make(map[string]map[string]string),
	}
}

func (p *fakePayments) CreateIntent(_ context.Context, in CreateIntentInput) (PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return PaymentIntent{}, p.createErr
	}
	if intent, ok := p.byToken[in.IdempotencyToken]; ok {
		intent.Canceled = p.canceled[intent.ID]
		return intent, nil
	}
	p.created++
	intent := PaymentIntent{
		ID:           fmt.Sprintf("pi_%d", p.created),
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.created),
		Amount:       in.Amount,
		Currency:     in.Currency,
	}
	p.byToken[in.IdempotencyToken] = intent
	md := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		md[k] = v
	}
	p.metadata[intent.ID] = md
	if p.onCreate != nil {
		p.mu.Unlock()
		p.onCreate()
		p.mu.Lock()
	}
	return intent, nil
}

func (p *fakePayments) CancelIntent(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled[id] = true
	return nil
}

func (p *fakePayments) UpdateMetadata(_ context.Context, id string, md map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	for k, v := range md {
		p.metadata[id][k] = v
	}
	return nil
}

func (p *fakePayments) canceledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.canceled)
}

func (p *fakePayments) isCanceled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled[id]
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []StatusChange
	err     error
}

func (n *recordingNotifier) OrderStatusChanged(_ context.Context, c StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}
