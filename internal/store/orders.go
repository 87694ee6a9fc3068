package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// Order statuses. The only automated transitions are
// pending -> paid and pending -> failed; fulfillment states are set by
// back-office tooling.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCanceled  = "canceled"
)

// OrderRow is one materialized order with its frozen totals.
type OrderRow struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	CartID            uuid.UUID
	Status            string
	Currency          string
	ShippingAddressID *uuid.UUID
	ShippingMethodID  *int64
	CouponID          *uuid.UUID
	Subtotal          money.Amount
	ItemsDiscount     money.Amount
	GlobalDiscount    money.Amount
	TaxAmount         money.Amount
	ShippingCost      money.Amount
	Total             money.Amount
	GrandTotal        money.Amount
	PaymentReference  string
	FailureReason     *string
	TrackingNumber    *string
	TrackingURL       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderLineRow freezes one cart line at purchase time: resolved name,
// unit price and attribute labels survive later catalog edits.
type OrderLineRow struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	ItemKind      string
	ItemID        uuid.UUID
	ItemName      string
	UnitPrice     money.Amount
	Quantity      int32
	ItemDiscount  money.Amount
	TotalPrice    money.Amount
	SizeLabel     string
	WeightLabel   string
	MaterialLabel string
	ColorLabel    string
	FlavorLabel   string
}

const orderColumns = `
	id, user_id, cart_id, status, currency, shipping_address_id, shipping_method_id, coupon_id,
	subtotal, items_discount, global_discount, tax_amount, shipping_cost, total, grand_total,
	payment_reference, failure_reason, tracking_number, tracking_url, created_at, updated_at`

func scanOrder(row pgx.Row) (OrderRow, error) {
	var (
		o                                                         OrderRow
		subtotal, itemsDisc, globalDisc, tax, shipCost, total, gt pgtype.Numeric
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CartID, &o.Status, &o.Currency,
		&o.ShippingAddressID, &o.ShippingMethodID, &o.CouponID,
		&subtotal, &itemsDisc, &globalDisc, &tax, &shipCost, &total, &gt,
		&o.PaymentReference, &o.FailureReason, &o.TrackingNumber, &o.TrackingURL,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return OrderRow{}, notFound(err)
	}
	for _, pair := range []struct {
		dst *money.Amount
		src pgtype.Numeric
	}{
		{&o.Subtotal, subtotal}, {&o.ItemsDiscount, itemsDisc}, {&o.GlobalDiscount, globalDisc},
		{&o.TaxAmount, tax}, {&o.ShippingCost, shipCost}, {&o.Total, total}, {&o.GrandTotal, gt},
	} {
		if *pair.dst, err = money.FromNumeric(pair.src); err != nil {
			return OrderRow{}, err
		}
	}
	return o, nil
}

// CreateOrderParams carries everything frozen onto a new pending order.
type CreateOrderParams struct {
	UserID            uuid.UUID
	CartID            uuid.UUID
	Currency          string
	ShippingAddressID *uuid.UUID
	ShippingMethodID  *int64
	CouponID          *uuid.UUID
	Subtotal          money.Amount
	ItemsDiscount     money.Amount
	GlobalDiscount    money.Amount
	TaxAmount         money.Amount
	ShippingCost      money.Amount
	Total             money.Amount
	GrandTotal        money.Amount
}

// CreateOrder materializes a pending order.
func (s *Store) CreateOrder(ctx context.Context, arg CreateOrderParams) (OrderRow, error) {
	const q = `
		INSERT INTO orders (user_id, cart_id, status, currency, shipping_address_id, shipping_method_id, coupon_id,
			subtotal, items_discount, global_discount, tax_amount, shipping_cost, total, grand_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + orderColumns
	return scanOrder(s.db.QueryRow(ctx, q,
		arg.UserID, arg.CartID, OrderStatusPending, arg.Currency,
		arg.ShippingAddressID, arg.ShippingMethodID, arg.CouponID,
		money.ToNumeric(arg.Subtotal), money.ToNumeric(arg.ItemsDiscount), money.ToNumeric(arg.GlobalDiscount),
		money.ToNumeric(arg.TaxAmount), money.ToNumeric(arg.ShippingCost),
		money.ToNumeric(arg.Total), money.ToNumeric(arg.GrandTotal)))
}

// InsertOrderLines writes the frozen lines of an order in one batch.
func (s *Store) InsertOrderLines(ctx context.Context, orderID uuid.UUID, lines []OrderLineRow) error {
	const q = `
		INSERT INTO order_lines (order_id, item_kind, item_id, item_name, unit_price, quantity,
			item_discount, total_price, size_label, weight_label, material_label, color_label, flavor_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(q, orderID, l.ItemKind, l.ItemID, l.ItemName,
			money.ToNumeric(l.UnitPrice), l.Quantity,
			money.ToNumeric(l.ItemDiscount), money.ToNumeric(l.TotalPrice),
			l.SizeLabel, l.WeightLabel, l.MaterialLabel, l.ColorLabel, l.FlavorLabel)
	}
	res := s.db.SendBatch(ctx, batch)
	defer res.Close()
	for range lines {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return res.Close()
}

// CreateOrderWithLines materializes a pending order and its frozen
// lines in one transaction, holding the cart row lock so a concurrent
// mutation cannot slip between pricing and persistence.
func (s *Store) CreateOrderWithLines(ctx context.Context, arg CreateOrderParams, lines []OrderLineRow) (OrderRow, error) {
	tx, txStore, err := s.Begin(ctx)
	if err != nil {
		return OrderRow{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := txStore.LockCartRow(ctx, arg.CartID); err != nil {
		return OrderRow{}, err
	}
	order, err := txStore.CreateOrder(ctx, arg)
	if err != nil {
		return OrderRow{}, err
	}
	if err := txStore.InsertOrderLines(ctx, order.ID, lines); err != nil {
		return OrderRow{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return OrderRow{}, err
	}
	return order, nil
}

// GetOrder fetches an order by id.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (OrderRow, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.db.QueryRow(ctx, q, id))
}

// GetOrderForUser fetches an order owned by the given user.
func (s *Store) GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (OrderRow, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`
	return scanOrder(s.db.QueryRow(ctx, q, id, userID))
}

// ListOrdersForUser returns the user's orders, newest first.
func (s *Store) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]OrderRow, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListOrderLines returns the frozen lines of an order.
func (s *Store) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]OrderLineRow, error) {
	const q = `
		SELECT id, order_id, item_kind, item_id, item_name, unit_price, quantity,
			item_discount, total_price, size_label, weight_label, material_label, color_label, flavor_label
		FROM order_lines WHERE order_id = $1 ORDER BY id`
	rows, err := s.db.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderLineRow
	for rows.Next() {
		var (
			l                     OrderLineRow
			unit, disc, lineTotal pgtype.Numeric
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemKind, &l.ItemID, &l.ItemName, &unit, &l.Quantity,
			&disc, &lineTotal, &l.SizeLabel, &l.WeightLabel, &l.MaterialLabel, &l.ColorLabel, &l.FlavorLabel); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = money.FromNumeric(unit); err != nil {
			return nil, err
		}
		if l.ItemDiscount, err = money.FromNumeric(disc); err != nil {
			return nil, err
		}
		if l.TotalPrice, err = money.FromNumeric(lineTotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkOrderPaid moves a pending order to paid, recording the gateway
// reference. False means the order was not pending anymore; a
// concurrent finalization already settled it.
func (s *Store) MarkOrderPaid(ctx context.Context, id uuid.UUID, paymentRef string) (bool, error) {
	const q = `
		UPDATE orders SET status = $2, payment_reference = $3, updated_at = now()
		WHERE id = $1 AND status = $4`
	tag, err := s.db.Exec(ctx, q, id, OrderStatusPaid, paymentRef, OrderStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkOrderFailed moves a pending order to failed with a reason.
func (s *Store) MarkOrderFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	const q = `
		UPDATE orders SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4`
	tag, err := s.db.Exec(ctx, q, id, OrderStatusFailed, reason, OrderStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetOrderStatusIf transitions the order only when it is currently in
// the expected state. False means the guard rejected the transition.
func (s *Store) SetOrderStatusIf(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	const q = `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
	tag, err := s.db.Exec(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetOrderTracking stores carrier tracking details on a paid order.
func (s *Store) SetOrderTracking(ctx context.Context, id uuid.UUID, number, url string) error {
	const q = `UPDATE orders SET tracking_number = $2, tracking_url = $3, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, id, number, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
