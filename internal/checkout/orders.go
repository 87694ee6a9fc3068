package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/store"
)

// ErrBadTransition is returned for a fulfillment transition the order's
// current status does not allow.
var ErrBadTransition = errors.New("checkout: illegal order status transition")

// fulfillmentTransitions are the back-office moves after settlement.
// pending->paid and pending->failed belong to Finalize alone.
var fulfillmentTransitions = map[string]string{
	store.OrderStatusShipped:   store.OrderStatusPaid,
	store.OrderStatusDelivered: store.OrderStatusShipped,
	store.OrderStatusCanceled:  store.OrderStatusPaid,
}

// FulfillmentRepo is the store access fulfillment updates need.
type FulfillmentRepo interface {
	GetOrder(ctx context.Context, id uuid.UUID) (store.OrderRow, error)
	SetOrderStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	SetOrderTracking(ctx context.Context, id uuid.UUID, number, url string) error
}

// GetOrder returns the caller's order with its frozen lines.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (Result, error) {
	order, err := s.Repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return Result{}, err
	}
	lines, err := s.Repo.ListOrderLines(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	return Result{Order: order, Lines: lines}, nil
}

// ListOrders returns the caller's order history.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]store.OrderRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListOrdersForUser(ctx, userID, limit, offset)
}

// Fulfillment applies back-office order updates.
type Fulfillment struct {
	Repo FulfillmentRepo
}

// Advance moves an order along the fulfillment chain, optionally
// attaching tracking details when it ships.
func (f *Fulfillment) Advance(ctx context.Context, orderID uuid.UUID, to, trackingNumber, trackingURL string) (store.OrderRow, error) {
	from, ok := fulfillmentTransitions[to]
	if !ok {
		return store.OrderRow{}, fmt.Errorf("%w: %q is not a fulfillment status", ErrBadTransition, to)
	}
	moved, err := f.Repo.SetOrderStatusIf(ctx, orderID, from, to)
	if err != nil {
		return store.OrderRow{}, err
	}
	if !moved {
		current, err := f.Repo.GetOrder(ctx, orderID)
		if err != nil {
			return store.OrderRow{}, err
		}
		return store.OrderRow{}, fmt.Errorf("%w: %s -> %s", ErrBadTransition, current.Status, to)
	}
	if to == store.OrderStatusShipped && trackingNumber != "" {
		if err := f.Repo.SetOrderTracking(ctx, orderID, trackingNumber, trackingURL); err != nil {
			return store.OrderRow{}, err
		}
	}
	return f.Repo.GetOrder(ctx, orderID)
}
