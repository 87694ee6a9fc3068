package address_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/address"
	"github.com/tienda-labs/backend-tienda/internal/common"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

type fakeRepo struct {
	addresses map[uuid.UUID]store.AddressRow
	methods   map[string][]shipping.Method
}

func (f *fakeRepo) CreateAddress(_ context.Context, a store.AddressRow) (store.AddressRow, error) {
	a.ID = uuid.New()
	f.addresses[a.ID] = a
	return a, nil
}

func (f *fakeRepo) ListAddresses(_ context.Context, userID uuid.UUID) ([]store.AddressRow, error) {
	var out []store.AddressRow
	for _, a := range f.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetAddress(_ context.Context, id, userID uuid.UUID) (store.AddressRow, error) {
	a, ok := f.addresses[id]
	if !ok || a.UserID != userID {
		return store.AddressRow{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) ListShippingMethodsForCountry(_ context.Context, country string) ([]shipping.Method, error) {
	return f.methods[strings.ToUpper(country)], nil
}

func newServer(repo *fakeRepo) *httptest.Server {
	h := &address.Handler{Repo: repo, Validate: validator.New(validator.WithRequiredStructEnabled())}
	r := chi.NewRouter()
	r.Use(common.RequireUser)
	h.Register(r)
	return httptest.NewServer(r)
}

func do(t *testing.T, method, url string, userID uuid.UUID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", userID.String())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateAndListAddresses(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{addresses: map[uuid.UUID]store.AddressRow{}}
	srv := newServer(repo)
	defer srv.Close()
	userID := uuid.New()

	resp := do(t, http.MethodPost, srv.URL+"/addresses", userID, `{
		"receiverName": "Ana Quispe",
		"country": "PE",
		"city": "Lima",
		"postalCode": "15001",
		"addressLine1": "Av. Arequipa 1234"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Address struct {
			ID      uuid.UUID `json:"id"`
			Country string    `json:"country"`
		} `json:"address"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, "PE", created.Address.Country)

	resp = do(t, http.MethodGet, srv.URL+"/addresses", userID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Addresses []json.RawMessage `json:"addresses"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Addresses, 1)

	// Another user cannot read it.
	resp = do(t, http.MethodGet, srv.URL+"/addresses/"+created.Address.ID.String(), uuid.New(), "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateAddressRejectsBadCountry(t *testing.T) {
	t.Parallel()

	srv := newServer(&fakeRepo{addresses: map[uuid.UUID]store.AddressRow{}})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/addresses", uuid.New(), `{
		"receiverName": "Ana Quispe",
		"country": "Peru",
		"city": "Lima",
		"postalCode": "15001",
		"addressLine1": "Av. Arequipa 1234"
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListShippingMethods(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		addresses: map[uuid.UUID]store.AddressRow{},
		methods: map[string][]shipping.Method{
			"PE": {{
				ID:       1,
				Name:     "Standard",
				Code:     "std",
				BaseRate: money.MustFromString("5.00"),
				Zone:     shipping.Zone{Name: "Andes", Countries: []string{"PE"}},
			}},
		},
	}
	srv := newServer(repo)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/shipping/methods?country=pe", uuid.New(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Methods []struct {
			Name     string `json:"name"`
			BaseRate string `json:"baseRate"`
		} `json:"methods"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Len(t, out.Methods, 1)
	require.Equal(t, "5.00", out.Methods[0].BaseRate)

	resp = do(t, http.MethodGet, srv.URL+"/shipping/methods?country=chile", uuid.New(), "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
