package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/lock"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// ErrLineNotInCart is returned when a line id does not belong to the
// caller's cart.
var ErrLineNotInCart = errors.New("cart: line does not belong to cart")

const mutationLockTTL = 10 * time.Second

// Querier is the store access the cart service needs.
type Querier interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (store.CartRow, error)
	GetCart(ctx context.Context, id uuid.UUID) (store.CartRow, error)
	ListCartLines(ctx context.Context, cartID uuid.UUID) ([]store.CartLineRow, error)
	GetCartLine(ctx context.Context, id uuid.UUID) (store.CartLineRow, error)
	UpsertCartLine(ctx context.Context, arg store.CartLineParams) (store.CartLineRow, error)
	SetCartLineCount(ctx context.Context, id uuid.UUID, count int32) (store.CartLineRow, error)
	SetCartLineCoupon(ctx context.Context, id uuid.UUID, couponID *uuid.UUID) error
	DeleteCartLine(ctx context.Context, id uuid.UUID) error
	SetCartCoupon(ctx context.Context, cartID uuid.UUID, couponID *uuid.UUID) error
	SetCartShipping(ctx context.Context, cartID uuid.UUID, addressID *uuid.UUID, methodID *int64, cost money.Amount) error
	SetCartShippingCost(ctx context.Context, cartID uuid.UUID, cost money.Amount) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	DeleteCart(ctx context.Context, cartID uuid.UUID) error

	GetCoupon(ctx context.Context, id uuid.UUID) (coupon.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (coupon.Coupon, error)
	CountCouponRedemptions(ctx context.Context, couponID, userID uuid.UUID) (int32, error)

	GetAddress(ctx context.Context, id, userID uuid.UUID) (store.AddressRow, error)
	GetShippingMethod(ctx context.Context, id int64) (shipping.Method, error)
}

// Service implements cart mutations and pricing reads. Mutations run
// under the per-cart Redis lock so interleaved requests cannot produce
// a torn snapshot.
type Service struct {
	Q       Querier
	Catalog *catalog.Registry
	Locker  lock.Locker
	Emitter analytics.Emitter
	TaxRate money.Amount
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) emit(ctx context.Context, it analytics.Interaction) {
	if s.Emitter == nil {
		return
	}
	// Best effort; analytics never fails a cart mutation.
	_ = s.Emitter.Emit(ctx, it)
}

// Ensure returns the caller's cart, creating it on first use.
func (s *Service) Ensure(ctx context.Context, userID uuid.UUID) (store.CartRow, error) {
	if s == nil || s.Q == nil {
		return store.CartRow{}, errors.New("cart: service not configured")
	}
	return s.Q.GetOrCreateCart(ctx, userID)
}

// withCartLock runs fn while holding the cart mutation lock.
func (s *Service) withCartLock(ctx context.Context, cartID uuid.UUID, fn func(context.Context) error) error {
	if s.Locker.R == nil {
		return fn(ctx)
	}
	return s.Locker.WithLock(ctx, lock.CartKey(cartID), mutationLockTTL, fn)
}

// LoadSnapshot materializes the priced snapshot of a cart: lines with
// resolved variants, attached coupons and stored shipping cost.
func (s *Service) LoadSnapshot(ctx context.Context, row store.CartRow) (Snapshot, error) {
	snap := Snapshot{
		CartID:       row.ID,
		UserID:       row.UserID,
		ShippingCost: row.ShippingCost,
		HasAddress:   row.ShippingAddressID != nil,
		HasMethod:    row.ShippingMethodID != nil,
	}
	if row.CouponID != nil {
		cp, err := s.Q.GetCoupon(ctx, *row.CouponID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("load cart coupon: %w", err)
		}
		snap.Coupon = &cp
	}

	rows, err := s.Q.ListCartLines(ctx, row.ID)
	if err != nil {
		return Snapshot{}, err
	}
	for _, lr := range rows {
		line, err := s.loadLine(ctx, lr)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Lines = append(snap.Lines, line)
	}
	return snap, nil
}

func (s *Service) loadLine(ctx context.Context, lr store.CartLineRow) (Line, error) {
	ref := catalog.Ref{Kind: catalog.Kind(lr.ItemKind), ID: lr.ItemID}
	sel := catalog.Selection{
		Size:     lr.SizeID,
		Weight:   lr.WeightID,
		Material: lr.MaterialID,
		Color:    lr.ColorID,
		Flavor:   lr.FlavorID,
	}
	variant, err := s.Catalog.Resolve(ctx, ref, sel)
	if err != nil {
		return Line{}, fmt.Errorf("resolve line %s: %w", lr.ID, err)
	}
	line := Line{
		ID:        lr.ID,
		Ref:       ref,
		Selection: sel,
		Count:     lr.Count,
		Variant:   variant,
		AddedAt:   lr.AddedAt,
	}
	if lr.CouponID != nil {
		cp, err := s.Q.GetCoupon(ctx, *lr.CouponID)
		if err != nil {
			return Line{}, fmt.Errorf("load line coupon: %w", err)
		}
		line.Coupon = &cp
	}
	return line, nil
}

// View is the priced cart returned to callers.
type View struct {
	Snapshot Snapshot
	Totals   Totals
}

// GetTotals prices the caller's cart.
func (s *Service) GetTotals(ctx context.Context, userID uuid.UUID) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	snap, err := s.LoadSnapshot(ctx, row)
	if err != nil {
		return View{}, err
	}
	return View{Snapshot: snap, Totals: ComputeTotals(snap, s.TaxRate)}, nil
}

// AddItemParams describes one add-to-cart request.
type AddItemParams struct {
	Ref       catalog.Ref
	Selection catalog.Selection
	Count     int32
}

// AddItem adds a variant to the cart or increments the existing line.
// Stock is checked against the post-merge count so repeated adds cannot
// overshoot availability.
func (s *Service) AddItem(ctx context.Context, userID uuid.UUID, p AddItemParams) (View, error) {
	if p.Count <= 0 {
		return View{}, fmt.Errorf("cart: count must be positive, got %d", p.Count)
	}
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}

	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		variant, err := s.Catalog.Resolve(ctx, p.Ref, p.Selection)
		if err != nil {
			return err
		}
		line, err := s.Q.UpsertCartLine(ctx, store.CartLineParams{
			CartID:     row.ID,
			ItemKind:   string(p.Ref.Kind),
			ItemID:     p.Ref.ID,
			SizeID:     p.Selection.Size,
			WeightID:   p.Selection.Weight,
			MaterialID: p.Selection.Material,
			ColorID:    p.Selection.Color,
			FlavorID:   p.Selection.Flavor,
			Count:      p.Count,
		})
		if err != nil {
			return err
		}
		stock, err := s.Catalog.Stock(ctx, p.Ref)
		if err != nil {
			return err
		}
		if line.Count > stock {
			// Roll the merge back to the pre-add count.
			prev := line.Count - p.Count
			if prev > 0 {
				_, err = s.Q.SetCartLineCount(ctx, line.ID, prev)
			} else {
				err = s.Q.DeleteCartLine(ctx, line.ID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %d requested, %d available", catalog.ErrInsufficientStock, line.Count, stock)
		}

		s.emit(ctx, analytics.RefInteraction(userID, p.Ref, analytics.KindAddToCart, p.Count, UnitPrice(Line{Count: p.Count, Variant: variant})))
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// UpdateLine replaces the count of a line in the caller's cart.
func (s *Service) UpdateLine(ctx context.Context, userID, lineID uuid.UUID, count int32) (View, error) {
	if count <= 0 {
		return View{}, fmt.Errorf("cart: count must be positive, got %d", count)
	}
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		line, err := s.ownedLine(ctx, row.ID, lineID)
		if err != nil {
			return err
		}
		ref := catalog.Ref{Kind: catalog.Kind(line.ItemKind), ID: line.ItemID}
		stock, err := s.Catalog.Stock(ctx, ref)
		if err != nil {
			return err
		}
		if count > stock {
			return fmt.Errorf("%w: %d requested, %d available", catalog.ErrInsufficientStock, count, stock)
		}
		if _, err := s.Q.SetCartLineCount(ctx, lineID, count); err != nil {
			return err
		}
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// RemoveLine removes removeCount units from a line, or the whole line
// when removeCount is nil or exhausts the remaining count.
func (s *Service) RemoveLine(ctx context.Context, userID, lineID uuid.UUID, removeCount *int32) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		line, err := s.ownedLine(ctx, row.ID, lineID)
		if err != nil {
			return err
		}
		removed := line.Count
		if removeCount != nil {
			if *removeCount <= 0 {
				return fmt.Errorf("cart: remove count must be positive, got %d", *removeCount)
			}
			if *removeCount < line.Count {
				removed = *removeCount
				if _, err := s.Q.SetCartLineCount(ctx, lineID, line.Count-removed); err != nil {
					return err
				}
			} else if err := s.Q.DeleteCartLine(ctx, lineID); err != nil {
				return err
			}
		} else if err := s.Q.DeleteCartLine(ctx, lineID); err != nil {
			return err
		}

		ref := catalog.Ref{Kind: catalog.Kind(line.ItemKind), ID: line.ItemID}
		s.emit(ctx, analytics.RefInteraction(userID, ref, analytics.KindRemoveFromCart, removed, money.Zero))
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// ApplyCoupon validates and attaches a coupon to the cart, or to one
// line when lineID is set.
func (s *Service) ApplyCoupon(ctx context.Context, userID uuid.UUID, code string, lineID *uuid.UUID) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		cp, err := s.Q.GetCouponByCode(ctx, code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return coupon.ErrNotFound
			}
			return err
		}
		used, err := s.Q.CountCouponRedemptions(ctx, cp.ID, userID)
		if err != nil {
			return err
		}
		if err := cp.Validate(s.now(), used); err != nil {
			return err
		}
		if lineID != nil {
			if _, err := s.ownedLine(ctx, row.ID, *lineID); err != nil {
				return err
			}
			if err := s.Q.SetCartLineCoupon(ctx, *lineID, &cp.ID); err != nil {
				return err
			}
		} else if err := s.Q.SetCartCoupon(ctx, row.ID, &cp.ID); err != nil {
			return err
		}
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// RemoveCoupon detaches the cart-level coupon.
func (s *Service) RemoveCoupon(ctx context.Context, userID uuid.UUID) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		if err := s.Q.SetCartCoupon(ctx, row.ID, nil); err != nil {
			return err
		}
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		var err error
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// SetShipping assigns the delivery address and method, validating zone
// coverage and storing the computed cost.
func (s *Service) SetShipping(ctx context.Context, userID, addressID uuid.UUID, methodID int64) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		addr, err := s.Q.GetAddress(ctx, addressID, userID)
		if err != nil {
			return err
		}
		method, err := s.Q.GetShippingMethod(ctx, methodID)
		if err != nil {
			return err
		}
		if err := shipping.CheckCoverage(method, addr.Country); err != nil {
			return err
		}
		snap, err := s.snapshotLocked(ctx, row.ID)
		if err != nil {
			return err
		}
		cost := shipping.CalculateCost(method, shipping.TotalWeightKg(snap.WeightedLines()))
		if err := s.Q.SetCartShipping(ctx, row.ID, &addressID, &methodID, cost); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

// recalcShippingLocked refreshes the stored shipping cost after the
// cart's lines or coupon changed. A cart without a chosen method keeps
// cost zero. Caller must hold the cart lock.
func (s *Service) recalcShippingLocked(ctx context.Context, cartID uuid.UUID) error {
	row, err := s.Q.GetCart(ctx, cartID)
	if err != nil {
		return err
	}
	if row.ShippingMethodID == nil {
		return nil
	}
	method, err := s.Q.GetShippingMethod(ctx, *row.ShippingMethodID)
	if err != nil {
		return err
	}
	snap, err := s.LoadSnapshot(ctx, row)
	if err != nil {
		return err
	}
	cost := shipping.CalculateCost(method, shipping.TotalWeightKg(snap.WeightedLines()))
	if cost.Equal(row.ShippingCost) {
		return nil
	}
	return s.Q.SetCartShippingCost(ctx, cartID, cost)
}

// Clear empties the cart and resets coupon and shipping state.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return err
	}
	return s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		return s.Q.ClearCart(ctx, row.ID)
	})
}

// Merge folds another cart (typically a pre-login anonymous cart) into
// the caller's cart, summing counts per variant, then deletes the
// source.
func (s *Service) Merge(ctx context.Context, userID, sourceCartID uuid.UUID) (View, error) {
	row, err := s.Ensure(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if sourceCartID == row.ID {
		return s.GetTotals(ctx, userID)
	}
	var view View
	err = s.withCartLock(ctx, row.ID, func(ctx context.Context) error {
		src, err := s.Q.GetCart(ctx, sourceCartID)
		if err != nil {
			return err
		}
		lines, err := s.Q.ListCartLines(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			_, err := s.Q.UpsertCartLine(ctx, store.CartLineParams{
				CartID:     row.ID,
				ItemKind:   l.ItemKind,
				ItemID:     l.ItemID,
				SizeID:     l.SizeID,
				WeightID:   l.WeightID,
				MaterialID: l.MaterialID,
				ColorID:    l.ColorID,
				FlavorID:   l.FlavorID,
				Count:      l.Count,
				CouponID:   l.CouponID,
			})
			if err != nil {
				return err
			}
		}
		if err := s.Q.DeleteCart(ctx, src.ID); err != nil {
			return err
		}
		if err := s.recalcShippingLocked(ctx, row.ID); err != nil {
			return err
		}
		view, err = s.viewLocked(ctx, row.ID)
		return err
	})
	return view, err
}

func (s *Service) ownedLine(ctx context.Context, cartID, lineID uuid.UUID) (store.CartLineRow, error) {
	line, err := s.Q.GetCartLine(ctx, lineID)
	if err != nil {
		return store.CartLineRow{}, err
	}
	if line.CartID != cartID {
		return store.CartLineRow{}, ErrLineNotInCart
	}
	return line, nil
}

func (s *Service) snapshotLocked(ctx context.Context, cartID uuid.UUID) (Snapshot, error) {
	row, err := s.Q.GetCart(ctx, cartID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.LoadSnapshot(ctx, row)
}

func (s *Service) viewLocked(ctx context.Context, cartID uuid.UUID) (View, error) {
	snap, err := s.snapshotLocked(ctx, cartID)
	if err != nil {
		return View{}, err
	}
	return View{Snapshot: snap, Totals: ComputeTotals(snap, s.TaxRate)}, nil
}
