// Package checkout finalizes a priced cart into a paid order. The
// pipeline is: lock the cart, reprice, materialize a pending order,
// release the lock, capture payment, then settle stock, coupon,
// analytics and cart state — deferring any post-capture failure to
// reconciliation instead of rolling the charge back.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/cart"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/events"
	"github.com/tienda-labs/backend-tienda/internal/lock"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/obs"
	"github.com/tienda-labs/backend-tienda/internal/payment"
	"github.com/tienda-labs/backend-tienda/internal/reconcile"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

var (
	// ErrCartEmpty is returned when finalizing a cart with no lines.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrShippingRequired is returned when the cart has no delivery
	// address or method assigned.
	ErrShippingRequired = errors.New("checkout: shipping address and method required")
	// ErrAlreadyFinalized is returned when the pending->paid guard
	// found the order already settled by another attempt.
	ErrAlreadyFinalized = errors.New("checkout: order already finalized")
)

const checkoutLockTTL = 45 * time.Second

// Repo is the store access the orchestrator needs.
type Repo interface {
	CreateOrderWithLines(ctx context.Context, arg store.CreateOrderParams, lines []store.OrderLineRow) (store.OrderRow, error)
	MarkOrderPaid(ctx context.Context, id uuid.UUID, paymentRef string) (bool, error)
	MarkOrderFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (store.OrderRow, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]store.OrderLineRow, error)
	ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]store.OrderRow, error)
	CountCouponRedemptions(ctx context.Context, couponID, userID uuid.UUID) (int32, error)
	RecordCouponUsage(ctx context.Context, couponID, userID, orderID uuid.UUID) (bool, error)
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	InsertReconTask(ctx context.Context, orderID uuid.UUID, step string, payload any) (int64, error)
}

// CartSource loads the cart being finalized.
type CartSource interface {
	Ensure(ctx context.Context, userID uuid.UUID) (store.CartRow, error)
	LoadSnapshot(ctx context.Context, row store.CartRow) (cart.Snapshot, error)
}

// Service orchestrates checkout.
type Service struct {
	Repo     Repo
	Carts    CartSource
	Catalog  *catalog.Registry
	Locker   lock.Locker
	Gateway  payment.Gateway
	Bus      *events.Bus
	Emitter  analytics.Emitter
	Queue    *asynq.Client
	Metrics  *obs.Metrics
	TaxRate  money.Amount
	Currency string
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Result is the outcome of a finalization.
type Result struct {
	Order store.OrderRow
	Lines []store.OrderLineRow
	State State
}

// Finalize runs the checkout pipeline for the caller's cart. A second
// concurrent attempt on the same cart observes lock.ErrLocked. The
// idempotency key is forwarded to the payment processor so a retried
// request cannot charge twice.
func (s *Service) Finalize(ctx context.Context, userID uuid.UUID, idemKey string) (Result, error) {
	p := newProgress()

	row, err := s.Carts.Ensure(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	release, err := s.Locker.TryLock(ctx, lock.CartKey(row.ID), checkoutLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.Metrics.ObserveCheckout(obs.OutcomeConflict)
		}
		return Result{}, err
	}
	locked := true
	defer func() {
		if locked {
			release()
		}
	}()

	snap, totals, err := s.price(ctx, row)
	if err != nil {
		s.Metrics.ObserveCheckout(obs.OutcomeInvalid)
		return Result{}, err
	}
	if err := p.advance(StatePriced); err != nil {
		return Result{}, err
	}

	order, err := s.Repo.CreateOrderWithLines(ctx, orderParams(row, snap, totals, s.Currency), freezeLines(snap))
	if err != nil {
		return Result{}, err
	}
	_ = s.Bus.Publish(ctx, events.Event{
		Topic:       events.TopicOrderCreated,
		AggregateID: order.ID,
		Payload:     map[string]any{"userId": userID, "grandTotal": order.GrandTotal},
	})

	// The cart is frozen inside the order now; holding the lock
	// through a slow gateway call would only block the user.
	release()
	locked = false

	capture, err := s.charge(ctx, order, idemKey)
	if err != nil {
		if err := p.advance(StateFailed); err != nil {
			return Result{}, err
		}
		if _, markErr := s.Repo.MarkOrderFailed(ctx, order.ID, err.Error()); markErr != nil {
			return Result{}, errors.Join(err, markErr)
		}
		_ = s.Bus.Publish(ctx, events.Event{
			Topic:       events.TopicCheckoutFailed,
			AggregateID: order.ID,
			Payload:     map[string]any{"reason": err.Error()},
		})
		if errors.Is(err, payment.ErrDeclined) {
			s.Metrics.ObserveCheckout(obs.OutcomeDeclined)
		} else {
			s.Metrics.ObserveCheckout(obs.OutcomeGateway)
		}
		order.Status = store.OrderStatusFailed
		return Result{Order: order, State: p.state}, err
	}
	if err := p.advance(StatePaymentAuthorized); err != nil {
		return Result{}, err
	}

	settled, err := s.Repo.MarkOrderPaid(ctx, order.ID, capture.Reference)
	if err != nil {
		return Result{}, err
	}
	if !settled {
		s.Metrics.ObserveCheckout(obs.OutcomeConflict)
		return Result{}, ErrAlreadyFinalized
	}
	if err := p.advance(StateFulfilling); err != nil {
		return Result{}, err
	}

	s.fulfill(ctx, snap, order)
	if err := p.advance(StateCompleted); err != nil {
		return Result{}, err
	}
	s.Metrics.ObserveCheckout(obs.OutcomeCompleted)

	final, err := s.Repo.GetOrderForUser(ctx, order.ID, userID)
	if err != nil {
		return Result{}, err
	}
	lines, err := s.Repo.ListOrderLines(ctx, order.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Order: final, Lines: lines, State: p.state}, nil
}

// price loads and validates the snapshot, returning the totals that
// will be frozen onto the order.
func (s *Service) price(ctx context.Context, row store.CartRow) (cart.Snapshot, cart.Totals, error) {
	snap, err := s.Carts.LoadSnapshot(ctx, row)
	if err != nil {
		return cart.Snapshot{}, cart.Totals{}, err
	}
	if len(snap.Lines) == 0 {
		return cart.Snapshot{}, cart.Totals{}, ErrCartEmpty
	}
	if !snap.HasAddress || !snap.HasMethod {
		return cart.Snapshot{}, cart.Totals{}, ErrShippingRequired
	}
	if snap.Coupon != nil {
		used, err := s.Repo.CountCouponRedemptions(ctx, snap.Coupon.ID, snap.UserID)
		if err != nil {
			return cart.Snapshot{}, cart.Totals{}, err
		}
		if err := snap.Coupon.Validate(s.now(), used); err != nil {
			return cart.Snapshot{}, cart.Totals{}, err
		}
	}
	for _, l := range snap.Lines {
		stock, err := s.Catalog.Stock(ctx, l.Ref)
		if err != nil {
			return cart.Snapshot{}, cart.Totals{}, err
		}
		if l.Count > stock {
			return cart.Snapshot{}, cart.Totals{}, fmt.Errorf("%w: %s", catalog.ErrInsufficientStock, l.Ref)
		}
	}
	return snap, cart.ComputeTotals(snap, s.TaxRate), nil
}

func (s *Service) charge(ctx context.Context, order store.OrderRow, idemKey string) (payment.Capture, error) {
	if idemKey == "" {
		idemKey = "order-" + order.ID.String()
	}
	ctx, span := otel.Tracer("checkout").Start(ctx, "payment.authorize_capture")
	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	defer span.End()

	capture, err := s.Gateway.AuthorizeAndCapture(ctx, payment.Charge{
		OrderID:        order.ID,
		Amount:         order.GrandTotal,
		Currency:       order.Currency,
		IdempotencyKey: idemKey,
		Description:    "order " + order.ID.String(),
	})
	if err != nil {
		span.RecordError(err)
	}
	return capture, err
}

// fulfill runs the post-capture steps. Nothing here may fail the
// checkout: the charge is settled, so failed steps are persisted as
// reconciliation tasks and replayed by the worker.
func (s *Service) fulfill(ctx context.Context, snap cart.Snapshot, order store.OrderRow) {
	var owed []reconcile.StockLine
	for _, l := range snap.Lines {
		if err := s.Catalog.Decrement(ctx, l.Ref, l.Selection, l.Count); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				s.Metrics.ObserveStockConflict()
			}
			owed = append(owed, reconcile.StockLine{
				Kind:      string(l.Ref.Kind),
				ItemID:    l.Ref.ID,
				Selection: l.Selection,
				Count:     l.Count,
			})
		}
	}
	if len(owed) > 0 {
		s.deferStep(ctx, order.ID, reconcile.StepStock, reconcile.StockPayload{Lines: owed})
	}

	if snap.Coupon != nil {
		inserted, err := s.Repo.RecordCouponUsage(ctx, snap.Coupon.ID, snap.UserID, order.ID)
		if err != nil {
			s.deferStep(ctx, order.ID, reconcile.StepCoupon, reconcile.CouponPayload{
				CouponID: snap.Coupon.ID,
				UserID:   snap.UserID,
				OrderID:  order.ID,
			})
		} else if inserted {
			s.Metrics.ObserveRedemption()
		}
	}

	var missed []analytics.Interaction
	for _, l := range snap.Lines {
		it := analytics.RefInteraction(snap.UserID, l.Ref, analytics.KindPurchase, l.Count, cart.LineTotal(l))
		if s.Emitter == nil {
			continue
		}
		if err := s.Emitter.Emit(ctx, it); err != nil {
			missed = append(missed, it)
		}
	}
	if len(missed) > 0 {
		s.deferStep(ctx, order.ID, reconcile.StepAnalytics, reconcile.AnalyticsPayload{Interactions: missed})
	}

	if err := s.Repo.ClearCart(ctx, snap.CartID); err != nil {
		s.deferStep(ctx, order.ID, reconcile.StepClearCart, reconcile.ClearCartPayload{CartID: snap.CartID})
	}

	_ = s.Bus.Publish(ctx, events.Event{
		Topic:       events.TopicOrderPaid,
		AggregateID: order.ID,
		Payload:     map[string]any{"paymentReference": order.PaymentReference, "grandTotal": order.GrandTotal},
	})
}

// deferStep persists a reconciliation task and schedules its replay.
func (s *Service) deferStep(ctx context.Context, orderID uuid.UUID, step string, payload any) {
	id, err := s.Repo.InsertReconTask(ctx, orderID, step, payload)
	if err != nil {
		return
	}
	s.Metrics.ObserveReconEnqueued()
	if s.Queue == nil {
		return
	}
	task, err := reconcile.NewReplayTask(id)
	if err != nil {
		return
	}
	_, _ = s.Queue.EnqueueContext(ctx, task,
		asynq.Queue(reconcile.QueueReconcile),
		asynq.MaxRetry(10),
		asynq.ProcessIn(5*time.Second))
}

// orderParams freezes the priced snapshot into order columns.
func orderParams(row store.CartRow, snap cart.Snapshot, totals cart.Totals, currency string) store.CreateOrderParams {
	if currency == "" {
		currency = "USD"
	}
	arg := store.CreateOrderParams{
		UserID:            snap.UserID,
		CartID:            snap.CartID,
		Currency:          currency,
		ShippingAddressID: row.ShippingAddressID,
		ShippingMethodID:  row.ShippingMethodID,
		Subtotal:          totals.Subtotal,
		ItemsDiscount:     totals.ItemsDiscount,
		GlobalDiscount:    totals.CartDiscount,
		TaxAmount:         totals.TaxAmount,
		ShippingCost:      totals.ShippingCost,
		Total:             totals.Total,
		GrandTotal:        totals.GrandTotal,
	}
	if snap.Coupon != nil {
		id := snap.Coupon.ID
		arg.CouponID = &id
	}
	return arg
}

// freezeLines snapshots the cart lines with resolved names, unit
// prices and labels so later catalog edits cannot rewrite history.
func freezeLines(snap cart.Snapshot) []store.OrderLineRow {
	lines := make([]store.OrderLineRow, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, store.OrderLineRow{
			ItemKind:      string(l.Ref.Kind),
			ItemID:        l.Ref.ID,
			ItemName:      l.Variant.ItemName,
			UnitPrice:     cart.UnitPrice(l),
			Quantity:      l.Count,
			ItemDiscount:  cart.LineDiscount(l),
			TotalPrice:    cart.LineTotal(l),
			SizeLabel:     l.Variant.Labels.Size,
			WeightLabel:   l.Variant.Labels.Weight,
			MaterialLabel: l.Variant.Labels.Material,
			ColorLabel:    l.Variant.Labels.Color,
			FlavorLabel:   l.Variant.Labels.Flavor,
		})
	}
	return lines
}
