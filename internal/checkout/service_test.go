package checkout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/cart"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/checkout"
	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/lock"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/payment"
	"github.com/tienda-labs/backend-tienda/internal/reconcile"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

func amt(s string) money.Amount { return money.MustFromString(s) }

type fakeCarts struct {
	row  store.CartRow
	snap cart.Snapshot
}

func (f *fakeCarts) Ensure(context.Context, uuid.UUID) (store.CartRow, error) {
	return f.row, nil
}

func (f *fakeCarts) LoadSnapshot(context.Context, store.CartRow) (cart.Snapshot, error) {
	return f.snap, nil
}

type reconRecord struct {
	orderID uuid.UUID
	step    string
	payload any
}

type fakeRepo struct {
	mu             sync.Mutex
	orders         map[uuid.UUID]store.OrderRow
	lines          map[uuid.UUID][]store.OrderLineRow
	redeemed       map[string]bool
	recon          []reconRecord
	cleared        []uuid.UUID
	paidGuardFails bool
	clearFails     bool
	redeemFails    bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   map[uuid.UUID]store.OrderRow{},
		lines:    map[uuid.UUID][]store.OrderLineRow{},
		redeemed: map[string]bool{},
	}
}

func (f *fakeRepo) CreateOrderWithLines(_ context.Context, arg store.CreateOrderParams, lines []store.OrderLineRow) (store.OrderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := store.OrderRow{
		ID:             uuid.New(),
		UserID:         arg.UserID,
		CartID:         arg.CartID,
		Status:         store.OrderStatusPending,
		Currency:       arg.Currency,
		CouponID:       arg.CouponID,
		Subtotal:       arg.Subtotal,
		ItemsDiscount:  arg.ItemsDiscount,
		GlobalDiscount: arg.GlobalDiscount,
		TaxAmount:      arg.TaxAmount,
		ShippingCost:   arg.ShippingCost,
		Total:          arg.Total,
		GrandTotal:     arg.GrandTotal,
		CreatedAt:      time.Now(),
	}
	f.orders[order.ID] = order
	f.lines[order.ID] = lines
	return order, nil
}

func (f *fakeRepo) MarkOrderPaid(_ context.Context, id uuid.UUID, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paidGuardFails {
		return false, nil
	}
	o, ok := f.orders[id]
	if !ok || o.Status != store.OrderStatusPending {
		return false, nil
	}
	o.Status = store.OrderStatusPaid
	o.PaymentReference = ref
	f.orders[id] = o
	return true, nil
}

func (f *fakeRepo) MarkOrderFailed(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.Status != store.OrderStatusPending {
		return false, nil
	}
	o.Status = store.OrderStatusFailed
	o.FailureReason = &reason
	f.orders[id] = o
	return true, nil
}

func (f *fakeRepo) GetOrderForUser(_ context.Context, id, userID uuid.UUID) (store.OrderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.UserID != userID {
		return store.OrderRow{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeRepo) ListOrderLines(_ context.Context, orderID uuid.UUID) ([]store.OrderLineRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[orderID], nil
}

func (f *fakeRepo) ListOrdersForUser(_ context.Context, userID uuid.UUID, _, _ int32) ([]store.OrderRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.OrderRow
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountCouponRedemptions(context.Context, uuid.UUID, uuid.UUID) (int32, error) {
	return 0, nil
}

func (f *fakeRepo) RecordCouponUsage(_ context.Context, couponID, userID, orderID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemFails {
		return false, context.DeadlineExceeded
	}
	key := couponID.String() + userID.String() + orderID.String()
	if f.redeemed[key] {
		return false, nil
	}
	f.redeemed[key] = true
	return true, nil
}

func (f *fakeRepo) ClearCart(_ context.Context, cartID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearFails {
		return context.DeadlineExceeded
	}
	f.cleared = append(f.cleared, cartID)
	return nil
}

func (f *fakeRepo) InsertReconTask(_ context.Context, orderID uuid.UUID, step string, payload any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recon = append(f.recon, reconRecord{orderID: orderID, step: step, payload: payload})
	return int64(len(f.recon)), nil
}

func (f *fakeRepo) reconSteps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.recon))
	for _, r := range f.recon {
		out = append(out, r.step)
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	keys     []string
	captures int
}

func (g *fakeGateway) AuthorizeAndCapture(_ context.Context, c payment.Charge) (payment.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, c.IdempotencyKey)
	if g.err != nil {
		return payment.Capture{}, g.err
	}
	g.captures++
	return payment.Capture{Reference: "ch_test_1", CapturedAt: time.Now()}, nil
}

type fakeAccessor struct {
	mu            sync.Mutex
	stock         map[uuid.UUID]int32
	failDecrement bool
}

func (f *fakeAccessor) Resolve(context.Context, uuid.UUID, catalog.Selection) (catalog.Variant, error) {
	return catalog.Variant{}, catalog.ErrItemNotFound
}

func (f *fakeAccessor) Stock(_ context.Context, id uuid.UUID) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[id], nil
}

func (f *fakeAccessor) Decrement(_ context.Context, id uuid.UUID, _ catalog.Selection, n int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDecrement || f.stock[id] < n {
		return catalog.ErrInsufficientStock
	}
	f.stock[id] -= n
	return nil
}

type fixture struct {
	svc    *checkout.Service
	repo   *fakeRepo
	gw     *fakeGateway
	acc    *fakeAccessor
	carts  *fakeCarts
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	userID := uuid.New()
	cartID := uuid.New()
	productID := uuid.New()
	addrID := uuid.New()
	methodID := int64(3)

	row := store.CartRow{
		ID:                cartID,
		UserID:            userID,
		ShippingAddressID: &addrID,
		ShippingMethodID:  &methodID,
		ShippingCost:      amt("5.00"),
	}
	snap := cart.Snapshot{
		CartID:       cartID,
		UserID:       userID,
		ShippingCost: amt("5.00"),
		HasAddress:   true,
		HasMethod:    true,
		Lines: []cart.Line{{
			ID:      uuid.New(),
			Ref:     catalog.Ref{Kind: catalog.KindProduct, ID: productID},
			Count:   3,
			Variant: catalog.Variant{ItemName: "widget", BasePrice: amt("10.00")},
		}},
	}

	repo := newFakeRepo()
	gw := &fakeGateway{}
	acc := &fakeAccessor{stock: map[uuid.UUID]int32{productID: 10}}
	registry := catalog.NewRegistry()
	registry.Register(catalog.KindProduct, acc)

	carts := &fakeCarts{row: row, snap: snap}
	svc := &checkout.Service{
		Repo:     repo,
		Carts:    carts,
		Catalog:  registry,
		Locker:   lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Gateway:  gw,
		TaxRate:  amt("0.18"),
		Currency: "USD",
	}
	return &fixture{svc: svc, repo: repo, gw: gw, acc: acc, carts: carts, userID: userID}
}

func (fx *fixture) productID() uuid.UUID {
	return fx.carts.snap.Lines[0].Ref.ID
}

func TestFinalizeHappyPath(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.Finalize(context.Background(), fx.userID, "idem-123")
	require.NoError(t, err)

	require.Equal(t, checkout.StateCompleted, res.State)
	require.Equal(t, store.OrderStatusPaid, res.Order.Status)
	require.Equal(t, "ch_test_1", res.Order.PaymentReference)
	// 3 x 10.00 + 5.00 shipping, 18% tax on 30.00.
	require.Equal(t, "35.00", res.Order.Total.StringFixed(2))
	require.Equal(t, "40.40", res.Order.GrandTotal.StringFixed(2))
	require.Len(t, res.Lines, 1)
	require.Equal(t, "widget", res.Lines[0].ItemName)

	require.Equal(t, []string{"idem-123"}, fx.gw.keys)
	require.Equal(t, int32(7), fx.acc.stock[fx.productID()])
	require.Equal(t, []uuid.UUID{fx.carts.row.ID}, fx.repo.cleared)
	require.Empty(t, fx.repo.reconSteps())
}

func TestFinalizeDeclinedKeepsCart(t *testing.T) {
	fx := newFixture(t)
	fx.gw.err = payment.ErrDeclined

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, payment.ErrDeclined)

	// Order persisted as failed, stock untouched, cart intact.
	require.Len(t, fx.repo.orders, 1)
	for _, o := range fx.repo.orders {
		require.Equal(t, store.OrderStatusFailed, o.Status)
	}
	require.Equal(t, int32(10), fx.acc.stock[fx.productID()])
	require.Empty(t, fx.repo.cleared)
}

func TestFinalizeGatewayErrorIsRetryable(t *testing.T) {
	fx := newFixture(t)
	fx.gw.err = payment.ErrGateway

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "retry-1")
	require.ErrorIs(t, err, payment.ErrGateway)
	require.Empty(t, fx.repo.cleared)

	// A retry reuses the same idempotency key against the processor.
	fx.gw.err = nil
	res, err := fx.svc.Finalize(context.Background(), fx.userID, "retry-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, res.Order.Status)
	require.Equal(t, []string{"retry-1", "retry-1"}, fx.gw.keys)
}

func TestFinalizeEmptyCart(t *testing.T) {
	fx := newFixture(t)
	fx.carts.snap.Lines = nil

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, checkout.ErrCartEmpty)
	require.Empty(t, fx.repo.orders)
}

func TestFinalizeRequiresShipping(t *testing.T) {
	fx := newFixture(t)
	fx.carts.snap.HasMethod = false

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, checkout.ErrShippingRequired)
}

func TestFinalizeRejectsOverStock(t *testing.T) {
	fx := newFixture(t)
	fx.acc.stock[fx.productID()] = 2

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)
	require.Empty(t, fx.repo.orders)
	require.Empty(t, fx.gw.keys)
}

func TestFinalizeRejectsInvalidCoupon(t *testing.T) {
	fx := newFixture(t)
	fx.carts.snap.Coupon = &coupon.Coupon{
		ID:        uuid.New(),
		Code:      "DEAD",
		Kind:      coupon.KindPercent,
		ValidFrom: time.Now().Add(-48 * time.Hour),
		ValidTo:   time.Now().Add(-24 * time.Hour),
		Active:    true,
	}

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, coupon.ErrInactive)
	require.Empty(t, fx.repo.orders)
}

func TestFinalizeConcurrentAttemptObservesLock(t *testing.T) {
	fx := newFixture(t)

	release, err := fx.svc.Locker.TryLock(context.Background(), lock.CartKey(fx.carts.row.ID), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, lock.ErrLocked)
	require.Empty(t, fx.repo.orders)
}

func TestFinalizeAlreadySettledGuard(t *testing.T) {
	fx := newFixture(t)
	fx.repo.paidGuardFails = true

	_, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.ErrorIs(t, err, checkout.ErrAlreadyFinalized)
}

func TestFinalizeDefersFailedStepsToReconciliation(t *testing.T) {
	fx := newFixture(t)
	fx.acc.failDecrement = true
	fx.repo.clearFails = true
	fx.repo.redeemFails = true
	fx.carts.snap.Coupon = &coupon.Coupon{
		ID:            uuid.New(),
		Code:          "TEN",
		Kind:          coupon.KindPercent,
		DiscountValue: amt("10"),
		ValidFrom:     time.Now().Add(-time.Hour),
		ValidTo:       time.Now().Add(time.Hour),
		Active:        true,
	}

	res, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.NoError(t, err)
	require.Equal(t, store.OrderStatusPaid, res.Order.Status)

	steps := fx.repo.reconSteps()
	require.Contains(t, steps, reconcile.StepStock)
	require.Contains(t, steps, reconcile.StepCoupon)
	require.Contains(t, steps, reconcile.StepClearCart)
}

func TestFinalizeRedeemsCouponOnce(t *testing.T) {
	fx := newFixture(t)
	cp := &coupon.Coupon{
		ID:            uuid.New(),
		Code:          "TEN",
		Kind:          coupon.KindPercent,
		DiscountValue: amt("10"),
		ValidFrom:     time.Now().Add(-time.Hour),
		ValidTo:       time.Now().Add(time.Hour),
		Active:        true,
	}
	fx.carts.snap.Coupon = cp

	res, err := fx.svc.Finalize(context.Background(), fx.userID, "")
	require.NoError(t, err)
	// 10% off 30.00: total 32.00, tax on 27.00.
	require.Equal(t, "32.00", res.Order.Total.StringFixed(2))
	require.Equal(t, "4.86", res.Order.TaxAmount.StringFixed(2))
	require.Len(t, fx.repo.redeemed, 1)
	require.Empty(t, fx.repo.reconSteps())
}
