package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/money"
)

func scanCoupon(row pgx.Row) (coupon.Coupon, error) {
	var (
		c           coupon.Coupon
		kind        string
		value       pgtype.Numeric
		minSubtotal pgtype.Numeric
		maxSubtotal pgtype.Numeric
	)
	err := row.Scan(&c.ID, &c.Code, &kind, &value, &c.ValidFrom, &c.ValidTo,
		&c.Active, &c.MaxUses, &c.PerUserLimit, &minSubtotal, &maxSubtotal, &c.UsesCount)
	if err != nil {
		return coupon.Coupon{}, notFound(err)
	}
	c.Kind = coupon.Kind(kind)
	if c.DiscountValue, err = money.FromNumeric(value); err != nil {
		return coupon.Coupon{}, err
	}
	if c.MinSubtotal, err = money.FromNumeric(minSubtotal); err != nil {
		return coupon.Coupon{}, err
	}
	if c.MaxSubtotal, err = optionalAmount(maxSubtotal); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

const couponColumns = `id, code, kind, discount_value, valid_from, valid_to, active, max_uses, per_user_limit, min_subtotal, max_subtotal, uses_count`

// GetCouponByCode looks a coupon up by its case-insensitive code.
func (s *Store) GetCouponByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	const q = `SELECT ` + couponColumns + ` FROM coupons WHERE lower(code) = lower($1)`
	return scanCoupon(s.db.QueryRow(ctx, q, strings.TrimSpace(code)))
}

// GetCoupon fetches a coupon by id.
func (s *Store) GetCoupon(ctx context.Context, id uuid.UUID) (coupon.Coupon, error) {
	const q = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	return scanCoupon(s.db.QueryRow(ctx, q, id))
}

// CountCouponRedemptions reports how many times the user has redeemed
// the coupon.
func (s *Store) CountCouponRedemptions(ctx context.Context, couponID, userID uuid.UUID) (int32, error) {
	const q = `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`
	var n int32
	if err := s.db.QueryRow(ctx, q, couponID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordCouponUsage registers one redemption for an order. The unique
// constraint on (coupon, user, order) makes replays no-ops, and the
// global counter only moves when the insert actually landed, so a
// retried finalization cannot double-count.
func (s *Store) RecordCouponUsage(ctx context.Context, couponID, userID, orderID uuid.UUID) (bool, error) {
	const ins = `
		INSERT INTO coupon_redemptions (coupon_id, user_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (coupon_id, user_id, order_id) DO NOTHING`
	tag, err := s.db.Exec(ctx, ins, couponID, userID, orderID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	const bump = `UPDATE coupons SET uses_count = uses_count + 1 WHERE id = $1`
	if _, err := s.db.Exec(ctx, bump, couponID); err != nil {
		return false, err
	}
	return true, nil
}
