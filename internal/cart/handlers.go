package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/common"
	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// Handler exposes the cart over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Register mounts the cart routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addItem)
	r.Patch("/cart/items/{lineID}", h.updateLine)
	r.Delete("/cart/items/{lineID}", h.removeLine)
	r.Post("/cart/coupon", h.applyCoupon)
	r.Delete("/cart/coupon", h.removeCoupon)
	r.Put("/cart/shipping", h.setShipping)
	r.Post("/cart/merge", h.merge)
	r.Delete("/cart", h.clear)
}

type lineBody struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	ItemID     uuid.UUID `json:"itemId"`
	ItemName   string    `json:"itemName"`
	Count      int32     `json:"count"`
	UnitPrice  string    `json:"unitPrice"`
	Discount   string    `json:"discount"`
	Total      string    `json:"total"`
	CouponCode string    `json:"couponCode,omitempty"`
	Labels     struct {
		Size     string `json:"size,omitempty"`
		Weight   string `json:"weight,omitempty"`
		Material string `json:"material,omitempty"`
		Color    string `json:"color,omitempty"`
		Flavor   string `json:"flavor,omitempty"`
	} `json:"labels"`
}

type cartBody struct {
	CartID        uuid.UUID  `json:"cartId"`
	Lines         []lineBody `json:"lines"`
	Subtotal      string     `json:"subtotal"`
	ItemsDiscount string     `json:"itemsDiscount"`
	CartDiscount  string     `json:"cartDiscount"`
	TaxAmount     string     `json:"taxAmount"`
	ShippingCost  string     `json:"shippingCost"`
	Total         string     `json:"total"`
	GrandTotal    string     `json:"grandTotal"`
	FreeShipping  bool       `json:"freeShipping"`
	CouponCode    string     `json:"couponCode,omitempty"`
}

func viewBody(v View) cartBody {
	b := cartBody{
		CartID:        v.Snapshot.CartID,
		Lines:         make([]lineBody, 0, len(v.Snapshot.Lines)),
		Subtotal:      v.Totals.Subtotal.StringFixed(2),
		ItemsDiscount: v.Totals.ItemsDiscount.StringFixed(2),
		CartDiscount:  v.Totals.CartDiscount.StringFixed(2),
		TaxAmount:     v.Totals.TaxAmount.StringFixed(2),
		ShippingCost:  v.Totals.ShippingCost.StringFixed(2),
		Total:         v.Totals.Total.StringFixed(2),
		GrandTotal:    v.Totals.GrandTotal.StringFixed(2),
		FreeShipping:  v.Totals.FreeShipping,
	}
	if v.Snapshot.Coupon != nil {
		b.CouponCode = v.Snapshot.Coupon.Code
	}
	for _, l := range v.Snapshot.Lines {
		lb := lineBody{
			ID:        l.ID,
			Kind:      string(l.Ref.Kind),
			ItemID:    l.Ref.ID,
			ItemName:  l.Variant.ItemName,
			Count:     l.Count,
			UnitPrice: UnitPrice(l).StringFixed(2),
			Discount:  LineDiscount(l).StringFixed(2),
			Total:     LineTotal(l).StringFixed(2),
		}
		if l.Coupon != nil {
			lb.CouponCode = l.Coupon.Code
		}
		lb.Labels.Size = l.Variant.Labels.Size
		lb.Labels.Weight = l.Variant.Labels.Weight
		lb.Labels.Material = l.Variant.Labels.Material
		lb.Labels.Color = l.Variant.Labels.Color
		lb.Labels.Flavor = l.Variant.Labels.Flavor
		b.Lines = append(b.Lines, lb)
	}
	return b
}

func writeView(w http.ResponseWriter, status int, v View) {
	common.JSON(w, status, map[string]any{"cart": viewBody(v)})
}

// mapErr translates domain errors into the API error taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsAppError(err):
		return err
	case errors.Is(err, catalog.ErrItemNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, ErrLineNotInCart):
		return common.NotFound("not found", err)
	case errors.Is(err, catalog.ErrAttributeNotFound),
		errors.Is(err, catalog.ErrUnsupportedKind),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrPerUserLimitReached),
		errors.Is(err, shipping.ErrZoneNotCovered):
		return common.Validation(err.Error(), err)
	case errors.Is(err, catalog.ErrInsufficientStock):
		return common.Consistency(err.Error(), err)
	}
	return err
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user identity", nil)
	}
	return id, ok
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.GetTotals(r.Context(), userID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

type addItemRequest struct {
	Kind       string    `json:"kind" validate:"required,oneof=product course"`
	ItemID     uuid.UUID `json:"itemId" validate:"required"`
	Count      int32     `json:"count" validate:"required,gt=0"`
	Attributes struct {
		SizeID     *int64 `json:"sizeId"`
		WeightID   *int64 `json:"weightId"`
		MaterialID *int64 `json:"materialId"`
		ColorID    *int64 `json:"colorId"`
		FlavorID   *int64 `json:"flavorId"`
	} `json:"attributes"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.AddItem(r.Context(), userID, AddItemParams{
		Ref:   catalog.Ref{Kind: catalog.Kind(req.Kind), ID: req.ItemID},
		Count: req.Count,
		Selection: catalog.Selection{
			Size:     req.Attributes.SizeID,
			Weight:   req.Attributes.WeightID,
			Material: req.Attributes.MaterialID,
			Color:    req.Attributes.ColorID,
			Flavor:   req.Attributes.FlavorID,
		},
	})
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusCreated, view)
}

func lineIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "lineID"))
	if err != nil {
		common.WriteError(w, common.Validation("invalid line id", err))
		return uuid.Nil, false
	}
	return id, true
}

type updateLineRequest struct {
	Count int32 `json:"count" validate:"required,gt=0"`
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}
	var req updateLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.UpdateLine(r.Context(), userID, lineID, req.Count)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}
	var removeCount *int32
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n <= 0 {
			common.WriteError(w, common.Validation("invalid remove count", err))
			return
		}
		c := int32(n)
		removeCount = &c
	}
	view, err := h.Svc.RemoveLine(r.Context(), userID, lineID, removeCount)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

type applyCouponRequest struct {
	Code   string     `json:"code" validate:"required,min=1,max=64"`
	LineID *uuid.UUID `json:"lineId"`
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.ApplyCoupon(r.Context(), userID, req.Code, req.LineID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.RemoveCoupon(r.Context(), userID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

type setShippingRequest struct {
	AddressID uuid.UUID `json:"addressId" validate:"required"`
	MethodID  int64     `json:"methodId" validate:"required,gt=0"`
}

func (h *Handler) setShipping(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req setShippingRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.SetShipping(r.Context(), userID, req.AddressID, req.MethodID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

type mergeRequest struct {
	SourceCartID uuid.UUID `json:"sourceCartId" validate:"required"`
}

func (h *Handler) merge(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req mergeRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.Svc.Merge(r.Context(), userID, req.SourceCartID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	writeView(w, http.StatusOK, view)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Clear(r.Context(), userID); err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
