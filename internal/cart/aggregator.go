package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
)

// Line is one cart entry with its resolved catalog pricing.
type Line struct {
	ID        uuid.UUID
	Ref       catalog.Ref
	Selection catalog.Selection
	Count     int32
	Coupon    *coupon.Coupon
	Variant   catalog.Variant
	AddedAt   time.Time
}

// Snapshot is the cart state the aggregator prices. It is immutable
// for the duration of a computation; callers hold the per-cart lock
// while building one if the result must not race a mutation.
type Snapshot struct {
	CartID       uuid.UUID
	UserID       uuid.UUID
	Lines        []Line
	Coupon       *coupon.Coupon
	ShippingCost money.Amount
	HasAddress   bool
	HasMethod    bool
}

// Totals aggregates every priced component of a cart.
type Totals struct {
	Subtotal      money.Amount
	ItemsDiscount money.Amount
	CartDiscount  money.Amount
	TaxAmount     money.Amount
	ShippingCost  money.Amount
	Total         money.Amount
	GrandTotal    money.Amount
	FreeShipping  bool
}

// UnitPrice is the item base price plus selected attribute deltas,
// quantized once at the end.
func UnitPrice(l Line) money.Amount {
	price := l.Variant.BasePrice
	for _, delta := range l.Variant.AttributeDeltas {
		price = price.Add(delta)
	}
	return money.Quantize(price)
}

// LineBaseTotal is unit price times count, quantized.
func LineBaseTotal(l Line) money.Amount {
	return money.Quantize(UnitPrice(l).Mul(decimal.NewFromInt32(l.Count)))
}

// LineDiscount is the per-line coupon discount, zero without a coupon.
func LineDiscount(l Line) money.Amount {
	if l.Coupon == nil {
		return money.Zero
	}
	return l.Coupon.ApplyItemDiscount(UnitPrice(l), l.Count)
}

// LineTotal is the base total net of the line discount.
func LineTotal(l Line) money.Amount {
	return money.Quantize(LineBaseTotal(l).Sub(LineDiscount(l)))
}

// WeightedLines projects the snapshot for the shipping calculator.
func (s Snapshot) WeightedLines() []shipping.WeightedLine {
	out := make([]shipping.WeightedLine, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, shipping.WeightedLine{WeightKg: l.Variant.WeightKg, Count: l.Count})
	}
	return out
}

// ComputeTotals derives every financial component of the snapshot.
// Each line total is quantized independently; the running sums are
// exact because all addends carry two decimals. Tax applies to the
// discounted subtotal and excludes shipping.
func ComputeTotals(s Snapshot, taxRate money.Amount) Totals {
	subtotal := money.Zero
	itemsDiscount := money.Zero
	for _, l := range s.Lines {
		subtotal = subtotal.Add(LineBaseTotal(l))
		itemsDiscount = itemsDiscount.Add(LineDiscount(l))
	}

	cartDiscount := money.Zero
	freeShipping := false
	if s.Coupon != nil {
		cartDiscount, freeShipping = s.Coupon.ApplyCartDiscount(subtotal.Sub(itemsDiscount))
	}

	shipping := s.ShippingCost
	if freeShipping {
		shipping = money.Zero
	}

	taxable := subtotal.Sub(itemsDiscount).Sub(cartDiscount)
	total := money.Quantize(taxable.Add(shipping))
	tax := money.Quantize(taxable.Mul(taxRate))

	return Totals{
		Subtotal:      money.Quantize(subtotal),
		ItemsDiscount: money.Quantize(itemsDiscount),
		CartDiscount:  cartDiscount,
		TaxAmount:     tax,
		ShippingCost:  shipping,
		Total:         total,
		GrandTotal:    money.Quantize(total.Add(tax)),
		FreeShipping:  freeShipping,
	}
}
