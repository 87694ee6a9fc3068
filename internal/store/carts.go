package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// CartRow is one persisted cart. Every user has at most one.
type CartRow struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	CouponID          *uuid.UUID
	ShippingAddressID *uuid.UUID
	ShippingMethodID  *int64
	ShippingCost      money.Amount
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartLineRow is one persisted cart line. A line is keyed by item plus
// the exact attribute selection; the same item with a different
// selection is a separate line.
type CartLineRow struct {
	ID         uuid.UUID
	CartID     uuid.UUID
	ItemKind   string
	ItemID     uuid.UUID
	SizeID     *int64
	WeightID   *int64
	MaterialID *int64
	ColorID    *int64
	FlavorID   *int64
	Count      int32
	CouponID   *uuid.UUID
	AddedAt    time.Time
}

const cartColumns = `id, user_id, coupon_id, shipping_address_id, shipping_method_id, shipping_cost, created_at, updated_at`

func scanCart(row pgx.Row) (CartRow, error) {
	var (
		c    CartRow
		cost pgtype.Numeric
	)
	err := row.Scan(&c.ID, &c.UserID, &c.CouponID, &c.ShippingAddressID, &c.ShippingMethodID, &cost, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return CartRow{}, notFound(err)
	}
	c.ShippingCost, err = money.FromNumeric(cost)
	if err != nil {
		return CartRow{}, err
	}
	return c, nil
}

// GetOrCreateCart returns the user's cart, creating an empty one on
// first touch.
func (s *Store) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (CartRow, error) {
	const q = `
		INSERT INTO carts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING ` + cartColumns
	return scanCart(s.db.QueryRow(ctx, q, userID))
}

// GetCart fetches a cart by id.
func (s *Store) GetCart(ctx context.Context, id uuid.UUID) (CartRow, error) {
	const q = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`
	return scanCart(s.db.QueryRow(ctx, q, id))
}

// LockCartRow takes a row lock on the cart for the duration of the
// surrounding transaction. Checkout uses it so concurrent mutations
// block behind the finalization.
func (s *Store) LockCartRow(ctx context.Context, id uuid.UUID) (CartRow, error) {
	const q = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1 FOR UPDATE`
	return scanCart(s.db.QueryRow(ctx, q, id))
}

const cartLineColumns = `id, cart_id, item_kind, item_id, size_id, weight_id, material_id, color_id, flavor_id, count, coupon_id, added_at`

func scanCartLine(row pgx.Row) (CartLineRow, error) {
	var l CartLineRow
	err := row.Scan(&l.ID, &l.CartID, &l.ItemKind, &l.ItemID,
		&l.SizeID, &l.WeightID, &l.MaterialID, &l.ColorID, &l.FlavorID,
		&l.Count, &l.CouponID, &l.AddedAt)
	if err != nil {
		return CartLineRow{}, notFound(err)
	}
	return l, nil
}

// ListCartLines returns the cart's lines in insertion order.
func (s *Store) ListCartLines(ctx context.Context, cartID uuid.UUID) ([]CartLineRow, error) {
	const q = `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, id`
	rows, err := s.db.Query(ctx, q, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []CartLineRow
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetCartLine fetches one line by id.
func (s *Store) GetCartLine(ctx context.Context, id uuid.UUID) (CartLineRow, error) {
	const q = `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE id = $1`
	return scanCartLine(s.db.QueryRow(ctx, q, id))
}

// CartLineParams identifies a variant being added to a cart.
type CartLineParams struct {
	CartID     uuid.UUID
	ItemKind   string
	ItemID     uuid.UUID
	SizeID     *int64
	WeightID   *int64
	MaterialID *int64
	ColorID    *int64
	FlavorID   *int64
	Count      int32
	CouponID   *uuid.UUID
}

// UpsertCartLine inserts a line or, when the same variant is already in
// the cart, increments its count. The conflict target matches the
// expression unique index over the attribute selection.
func (s *Store) UpsertCartLine(ctx context.Context, arg CartLineParams) (CartLineRow, error) {
	const q = `
		INSERT INTO cart_lines (cart_id, item_kind, item_id, size_id, weight_id, material_id, color_id, flavor_id, count, coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cart_id, item_kind, item_id, COALESCE(size_id, 0), COALESCE(weight_id, 0), COALESCE(material_id, 0), COALESCE(color_id, 0), COALESCE(flavor_id, 0))
		DO UPDATE SET count = cart_lines.count + EXCLUDED.count, updated_at = now()
		RETURNING ` + cartLineColumns
	return scanCartLine(s.db.QueryRow(ctx, q,
		arg.CartID, arg.ItemKind, arg.ItemID,
		arg.SizeID, arg.WeightID, arg.MaterialID, arg.ColorID, arg.FlavorID,
		arg.Count, arg.CouponID))
}

// SetCartLineCount replaces the line count.
func (s *Store) SetCartLineCount(ctx context.Context, id uuid.UUID, count int32) (CartLineRow, error) {
	const q = `UPDATE cart_lines SET count = $2, updated_at = now() WHERE id = $1 RETURNING ` + cartLineColumns
	return scanCartLine(s.db.QueryRow(ctx, q, id, count))
}

// SetCartLineCoupon attaches or detaches a per-line coupon.
func (s *Store) SetCartLineCoupon(ctx context.Context, id uuid.UUID, couponID *uuid.UUID) error {
	const q = `UPDATE cart_lines SET coupon_id = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, id, couponID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCartLine removes a line.
func (s *Store) DeleteCartLine(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCartCoupon attaches or detaches the cart-level coupon.
func (s *Store) SetCartCoupon(ctx context.Context, cartID uuid.UUID, couponID *uuid.UUID) error {
	const q = `UPDATE carts SET coupon_id = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, cartID, couponID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCartShipping stores the chosen address, method and computed cost.
func (s *Store) SetCartShipping(ctx context.Context, cartID uuid.UUID, addressID *uuid.UUID, methodID *int64, cost money.Amount) error {
	const q = `
		UPDATE carts
		SET shipping_address_id = $2, shipping_method_id = $3, shipping_cost = $4, updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, cartID, addressID, methodID, money.ToNumeric(cost))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCartShippingCost refreshes only the stored cost, keeping the
// address and method.
func (s *Store) SetCartShippingCost(ctx context.Context, cartID uuid.UUID, cost money.Amount) error {
	const q = `UPDATE carts SET shipping_cost = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, cartID, money.ToNumeric(cost))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCart drops all lines and resets coupon and shipping state,
// keeping the cart row itself.
func (s *Store) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	const q = `
		UPDATE carts
		SET coupon_id = NULL, shipping_address_id = NULL, shipping_method_id = NULL,
		    shipping_cost = 0, updated_at = now()
		WHERE id = $1`
	_, err := s.db.Exec(ctx, q, cartID)
	return err
}

// DeleteCart removes the cart and, via cascade, its lines. Used after a
// guest cart has been merged away.
func (s *Store) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	return err
}
