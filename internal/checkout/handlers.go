package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/common"
	"github.com/tienda-labs/backend-tienda/internal/coupon"
	"github.com/tienda-labs/backend-tienda/internal/lock"
	"github.com/tienda-labs/backend-tienda/internal/payment"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// Handler exposes checkout and order readback over HTTP.
type Handler struct {
	Svc         *Service
	Fulfillment *Fulfillment
	Validate    *validator.Validate
}

// Register mounts checkout and order routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.finalize)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}", h.advanceOrder)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsAppError(err):
		return err
	case errors.Is(err, ErrCartEmpty),
		errors.Is(err, ErrShippingRequired),
		errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrPerUserLimitReached):
		return common.Validation(err.Error(), err)
	case errors.Is(err, ErrBadTransition):
		return common.Consistency(err.Error(), err)
	case errors.Is(err, lock.ErrLocked):
		return common.Consistency("checkout already in progress for this cart", err)
	case errors.Is(err, ErrAlreadyFinalized):
		return common.Consistency(err.Error(), err)
	case errors.Is(err, catalog.ErrInsufficientStock):
		return common.Consistency(err.Error(), err)
	case errors.Is(err, catalog.ErrItemNotFound), errors.Is(err, store.ErrNotFound):
		return common.NotFound("not found", err)
	case errors.Is(err, payment.ErrDeclined):
		return common.PaymentDeclined("payment declined", err)
	case errors.Is(err, payment.ErrGateway):
		return common.Gateway("payment gateway unavailable", err)
	}
	return err
}

type orderLineBody struct {
	ItemKind     string    `json:"itemKind"`
	ItemID       uuid.UUID `json:"itemId"`
	ItemName     string    `json:"itemName"`
	UnitPrice    string    `json:"unitPrice"`
	Quantity     int32     `json:"quantity"`
	ItemDiscount string    `json:"itemDiscount"`
	TotalPrice   string    `json:"totalPrice"`
	Labels       struct {
		Size     string `json:"size,omitempty"`
		Weight   string `json:"weight,omitempty"`
		Material string `json:"material,omitempty"`
		Color    string `json:"color,omitempty"`
		Flavor   string `json:"flavor,omitempty"`
	} `json:"labels"`
}

type orderBody struct {
	ID               uuid.UUID       `json:"id"`
	Status           string          `json:"status"`
	Currency         string          `json:"currency"`
	Subtotal         string          `json:"subtotal"`
	ItemsDiscount    string          `json:"itemsDiscount"`
	GlobalDiscount   string          `json:"globalDiscount"`
	TaxAmount        string          `json:"taxAmount"`
	ShippingCost     string          `json:"shippingCost"`
	Total            string          `json:"total"`
	GrandTotal       string          `json:"grandTotal"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	TrackingNumber   *string         `json:"trackingNumber,omitempty"`
	TrackingURL      *string         `json:"trackingUrl,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	Lines            []orderLineBody `json:"lines,omitempty"`
}

func toOrderBody(o store.OrderRow, lines []store.OrderLineRow) orderBody {
	b := orderBody{
		ID:               o.ID,
		Status:           o.Status,
		Currency:         o.Currency,
		Subtotal:         o.Subtotal.StringFixed(2),
		ItemsDiscount:    o.ItemsDiscount.StringFixed(2),
		GlobalDiscount:   o.GlobalDiscount.StringFixed(2),
		TaxAmount:        o.TaxAmount.StringFixed(2),
		ShippingCost:     o.ShippingCost.StringFixed(2),
		Total:            o.Total.StringFixed(2),
		GrandTotal:       o.GrandTotal.StringFixed(2),
		PaymentReference: o.PaymentReference,
		TrackingNumber:   o.TrackingNumber,
		TrackingURL:      o.TrackingURL,
		CreatedAt:        o.CreatedAt,
	}
	for _, l := range lines {
		lb := orderLineBody{
			ItemKind:     l.ItemKind,
			ItemID:       l.ItemID,
			ItemName:     l.ItemName,
			UnitPrice:    l.UnitPrice.StringFixed(2),
			Quantity:     l.Quantity,
			ItemDiscount: l.ItemDiscount.StringFixed(2),
			TotalPrice:   l.TotalPrice.StringFixed(2),
		}
		lb.Labels.Size = l.SizeLabel
		lb.Labels.Weight = l.WeightLabel
		lb.Labels.Material = l.MaterialLabel
		lb.Labels.Color = l.ColorLabel
		lb.Labels.Flavor = l.FlavorLabel
		b.Lines = append(b.Lines, lb)
	}
	return b
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user identity", nil)
	}
	return id, ok
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.Finalize(r.Context(), userID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"order": toOrderBody(res.Order, res.Lines),
		"state": res.State,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.WriteError(w, common.Validation("invalid order id", err))
		return
	}
	res, err := h.Svc.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"order": toOrderBody(res.Order, res.Lines)})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	limit := queryInt32(r, "limit", 20)
	offset := queryInt32(r, "offset", 0)
	orders, err := h.Svc.ListOrders(r.Context(), userID, limit, offset)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	out := make([]orderBody, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderBody(o, nil))
	}
	common.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

type advanceOrderRequest struct {
	Status         string `json:"status" validate:"required,oneof=shipped delivered canceled"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl"`
}

func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		common.WriteError(w, common.Validation("invalid order id", err))
		return
	}
	var req advanceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return
	}
	order, err := h.Fulfillment.Advance(r.Context(), orderID, req.Status, req.TrackingNumber, req.TrackingURL)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"order": toOrderBody(order, nil)})
}

func queryInt32(r *http.Request, key string, def int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}
