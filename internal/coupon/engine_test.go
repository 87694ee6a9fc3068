package coupon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/money"
)

func activeWindow(now time.Time) (time.Time, time.Time) {
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestIsActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from, to := activeWindow(now)

	c := coupon.Coupon{Active: true, ValidFrom: from, ValidTo: to}
	require.True(t, c.IsActive(now))
	require.False(t, c.IsActive(to.Add(time.Minute)))
	require.False(t, c.IsActive(from.Add(-time.Minute)))

	c.Active = false
	require.False(t, c.IsActive(now))

	maxUses := int32(5)
	c = coupon.Coupon{Active: true, ValidFrom: from, ValidTo: to, MaxUses: &maxUses, UsesCount: 5}
	require.False(t, c.IsActive(now))
	require.ErrorIs(t, c.Validate(now, 0), coupon.ErrUsageLimitReached)
}

func TestPerUserLimit(t *testing.T) {
	t.Parallel()

	now := time.Now()
	from, to := activeWindow(now)
	c := coupon.Coupon{Active: true, ValidFrom: from, ValidTo: to, PerUserLimit: 1}

	require.True(t, c.CanUserUse(now, 0))
	require.False(t, c.CanUserUse(now, 1))
	require.ErrorIs(t, c.Validate(now, 1), coupon.ErrPerUserLimitReached)
}

func TestApplyCartDiscountPercent(t *testing.T) {
	t.Parallel()

	c := coupon.Coupon{
		Kind:          coupon.KindPercent,
		DiscountValue: money.MustFromString("10"),
		MinSubtotal:   money.MustFromString("20.00"),
	}
	discount, freeShip := c.ApplyCartDiscount(money.MustFromString("30.00"))
	require.False(t, freeShip)
	require.True(t, discount.Equal(money.MustFromString("3.00")), "got %s", discount)
}

func TestApplyCartDiscountFixedCapped(t *testing.T) {
	t.Parallel()

	c := coupon.Coupon{Kind: coupon.KindFixed, DiscountValue: money.MustFromString("50.00")}
	discount, _ := c.ApplyCartDiscount(money.MustFromString("30.00"))
	require.True(t, discount.Equal(money.MustFromString("30.00")))
}

func TestApplyCartDiscountOutOfBoundsFailsClosed(t *testing.T) {
	t.Parallel()

	maxSub := money.MustFromString("100.00")
	c := coupon.Coupon{
		Kind:          coupon.KindPercent,
		DiscountValue: money.MustFromString("25"),
		MinSubtotal:   money.MustFromString("20.00"),
		MaxSubtotal:   &maxSub,
	}
	for _, subtotal := range []string{"19.99", "100.01"} {
		discount, freeShip := c.ApplyCartDiscount(money.MustFromString(subtotal))
		require.True(t, discount.IsZero(), "subtotal %s", subtotal)
		require.False(t, freeShip)
	}
}

func TestApplyCartDiscountFreeShipping(t *testing.T) {
	t.Parallel()

	c := coupon.Coupon{Kind: coupon.KindFreeShipping}
	discount, freeShip := c.ApplyCartDiscount(money.MustFromString("55.00"))
	require.True(t, discount.IsZero())
	require.True(t, freeShip)
}

func TestApplyItemDiscount(t *testing.T) {
	t.Parallel()

	fixed := coupon.Coupon{Kind: coupon.KindFixed, DiscountValue: money.MustFromString("50.00")}
	// 3 x 10.00 = 30.00 line total, fixed 50 capped at the line total.
	got := fixed.ApplyItemDiscount(money.MustFromString("10.00"), 3)
	require.True(t, got.Equal(money.MustFromString("30.00")))

	percent := coupon.Coupon{Kind: coupon.KindPercent, DiscountValue: money.MustFromString("15")}
	got = percent.ApplyItemDiscount(money.MustFromString("19.99"), 2)
	// line total 39.98, 15% = 5.997 -> 6.00
	require.True(t, got.Equal(money.MustFromString("6.00")), "got %s", got)

	freeShip := coupon.Coupon{Kind: coupon.KindFreeShipping}
	require.True(t, freeShip.ApplyItemDiscount(money.MustFromString("10.00"), 1).IsZero())
}
