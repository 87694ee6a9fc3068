package coupon

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// Kind enumerates supported discount kinds.
type Kind string

const (
	KindFixed        Kind = "fixed"
	KindPercent      Kind = "percent"
	KindFreeShipping Kind = "free_shipping"
)

var (
	// ErrNotFound is returned when the coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when using a coupon outside its active window.
	ErrInactive = errors.New("coupon not active")
	// ErrUsageLimitReached indicates the coupon has exhausted its global quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrPerUserLimitReached indicates the caller exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("coupon per-user usage limit reached")
)

// Coupon captures the runtime constraints of a discount rule.
// UsesCount only moves through recorded redemptions, never backwards.
type Coupon struct {
	ID            uuid.UUID
	Code          string
	Kind          Kind
	DiscountValue money.Amount
	ValidFrom     time.Time
	ValidTo       time.Time
	Active        bool
	MaxUses       *int32
	PerUserLimit  int32
	MinSubtotal   money.Amount
	MaxSubtotal   *money.Amount
	UsesCount     int32
}

// IsActive reports whether the coupon can be used at the given instant.
func (c Coupon) IsActive(now time.Time) bool {
	if !c.Active {
		return false
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidTo) {
		return false
	}
	if c.MaxUses != nil && c.UsesCount >= *c.MaxUses {
		return false
	}
	return true
}

// Validate explains why a coupon cannot be used, for API error mapping.
// perUserUsed is the caller's redemption count for this coupon.
func (c Coupon) Validate(now time.Time, perUserUsed int32) error {
	if !c.Active || now.Before(c.ValidFrom) || now.After(c.ValidTo) {
		return ErrInactive
	}
	if c.MaxUses != nil && c.UsesCount >= *c.MaxUses {
		return ErrUsageLimitReached
	}
	if c.PerUserLimit > 0 && perUserUsed >= c.PerUserLimit {
		return ErrPerUserLimitReached
	}
	return nil
}

// CanUserUse reports whether the user still has redemptions available.
func (c Coupon) CanUserUse(now time.Time, perUserUsed int32) bool {
	return c.Validate(now, perUserUsed) == nil
}

func (c Coupon) withinSubtotalBounds(base money.Amount) bool {
	if base.LessThan(c.MinSubtotal) {
		return false
	}
	if c.MaxSubtotal != nil && base.GreaterThan(*c.MaxSubtotal) {
		return false
	}
	return true
}

// ApplyCartDiscount computes the cart-level discount for the net
// subtotal (after item discounts). Fails closed when the subtotal is
// outside [MinSubtotal, MaxSubtotal]. The free-shipping kind yields no
// monetary discount; shipping is waived downstream via the flag.
func (c Coupon) ApplyCartDiscount(netSubtotal money.Amount) (money.Amount, bool) {
	if !c.withinSubtotalBounds(netSubtotal) {
		return money.Zero, false
	}
	switch c.Kind {
	case KindPercent:
		return money.Quantize(netSubtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100))), false
	case KindFixed:
		return money.Min(c.DiscountValue, netSubtotal), false
	case KindFreeShipping:
		return money.Zero, true
	}
	return money.Zero, false
}

// ApplyItemDiscount computes a per-line discount against the quantized
// line total. Subtotal bounds gate per line. Free shipping is only
// meaningful cart-wide and yields zero here.
func (c Coupon) ApplyItemDiscount(unitPrice money.Amount, quantity int32) money.Amount {
	lineTotal := money.Quantize(unitPrice.Mul(decimal.NewFromInt32(quantity)))
	if !c.withinSubtotalBounds(lineTotal) {
		return money.Zero
	}
	switch c.Kind {
	case KindPercent:
		return money.Quantize(lineTotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)))
	case KindFixed:
		return money.Min(c.DiscountValue, lineTotal)
	}
	return money.Zero
}
