// Package address manages delivery addresses and exposes the shipping
// methods available for a destination.
package address

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/common"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// Repo is the store access the address handler needs.
type Repo interface {
	CreateAddress(ctx context.Context, a store.AddressRow) (store.AddressRow, error)
	ListAddresses(ctx context.Context, userID uuid.UUID) ([]store.AddressRow, error)
	GetAddress(ctx context.Context, id, userID uuid.UUID) (store.AddressRow, error)
	ListShippingMethodsForCountry(ctx context.Context, country string) ([]shipping.Method, error)
}

// Handler exposes addresses and shipping methods over HTTP.
type Handler struct {
	Repo     Repo
	Validate *validator.Validate
}

// Register mounts the address and shipping method routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/addresses", h.list)
	r.Post("/addresses", h.create)
	r.Get("/addresses/{addressID}", h.get)
	r.Get("/shipping/methods", h.methods)
}

type addressBody struct {
	ID           uuid.UUID `json:"id"`
	ReceiverName string    `json:"receiverName"`
	Country      string    `json:"country"`
	Province     string    `json:"province,omitempty"`
	City         string    `json:"city"`
	PostalCode   string    `json:"postalCode"`
	AddressLine1 string    `json:"addressLine1"`
	AddressLine2 string    `json:"addressLine2,omitempty"`
}

func toAddressBody(a store.AddressRow) addressBody {
	return addressBody{
		ID:           a.ID,
		ReceiverName: a.ReceiverName,
		Country:      a.Country,
		Province:     a.Province,
		City:         a.City,
		PostalCode:   a.PostalCode,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
	}
}

type methodBody struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Code            string `json:"code"`
	BaseRate        string `json:"baseRate"`
	PerKgRate       string `json:"perKgRate"`
	MinDeliveryDays int16  `json:"minDeliveryDays"`
	MaxDeliveryDays int16  `json:"maxDeliveryDays"`
	Zone            string `json:"zone"`
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsAppError(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return common.NotFound("address not found", err)
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

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	rows, err := h.Repo.ListAddresses(r.Context(), userID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	out := make([]addressBody, 0, len(rows))
	for _, a := range rows {
		out = append(out, toAddressBody(a))
	}
	common.JSON(w, http.StatusOK, map[string]any{"addresses": out})
}

type createAddressRequest struct {
	ReceiverName string `json:"receiverName" validate:"required,min=1,max=120"`
	Country      string `json:"country" validate:"required,iso3166_1_alpha2"`
	Province     string `json:"province" validate:"max=120"`
	City         string `json:"city" validate:"required,max=120"`
	PostalCode   string `json:"postalCode" validate:"required,max=16"`
	AddressLine1 string `json:"addressLine1" validate:"required,max=255"`
	AddressLine2 string `json:"addressLine2" validate:"max=255"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req createAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return
	}
	if err := h.Validate.Struct(&req); err != nil {
		common.WriteError(w, common.Validation("invalid request body", err))
		return
	}
	row, err := h.Repo.CreateAddress(r.Context(), store.AddressRow{
		UserID:       userID,
		ReceiverName: req.ReceiverName,
		Country:      req.Country,
		Province:     req.Province,
		City:         req.City,
		PostalCode:   req.PostalCode,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
	})
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"address": toAddressBody(row)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "addressID"))
	if err != nil {
		common.WriteError(w, common.Validation("invalid address id", err))
		return
	}
	row, err := h.Repo.GetAddress(r.Context(), id, userID)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"address": toAddressBody(row)})
}

// methods lists active shipping methods covering the destination. The
// destination is a query param so the client can ask before the
// address is saved.
func (h *Handler) methods(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.user(w, r); !ok {
		return
	}
	country := r.URL.Query().Get("country")
	if len(country) != 2 {
		common.WriteError(w, common.Validation("country must be a two-letter code", nil))
		return
	}
	methods, err := h.Repo.ListShippingMethodsForCountry(r.Context(), country)
	if err != nil {
		common.WriteError(w, mapErr(err))
		return
	}
	out := make([]methodBody, 0, len(methods))
	for _, m := range methods {
		out = append(out, methodBody{
			ID:              m.ID,
			Name:            m.Name,
			Code:            m.Code,
			BaseRate:        m.BaseRate.StringFixed(2),
			PerKgRate:       m.PerKgRate.StringFixed(2),
			MinDeliveryDays: m.MinDeliveryDays,
			MaxDeliveryDays: m.MaxDeliveryDays,
			Zone:            m.Zone.Name,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"methods": out})
}
