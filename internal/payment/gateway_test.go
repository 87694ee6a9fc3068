package payment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/payment"
)

func testCharge() payment.Charge {
	return payment.Charge{
		OrderID:        uuid.New(),
		Amount:         money.MustFromString("40.40"),
		Currency:       "USD",
		IdempotencyKey: "idem-abc",
		Description:    "order test",
	}
}

func TestAuthorizeAndCaptureSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/charges", r.URL.Path)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.Equal(t, "idem-abc", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		require.Equal(t, "4040", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		require.Equal(t, "true", r.PostForm.Get("capture"))
		require.NotEmpty(t, r.PostForm.Get("metadata[order_id]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ch_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	g := &payment.HTTPGateway{BaseURL: srv.URL, SecretKey: "sk_test_123"}
	capture, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.NoError(t, err)
	require.Equal(t, "ch_1", capture.Reference)
	require.WithinDuration(t, time.Now().UTC(), capture.CapturedAt, 5*time.Second)
}

func TestAuthorizeAndCaptureDeclined(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"code":"card_declined","message":"insufficient funds"}}`))
	}))
	defer srv.Close()

	g := &payment.HTTPGateway{BaseURL: srv.URL, SecretKey: "sk"}
	_, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.ErrorIs(t, err, payment.ErrDeclined)
}

func TestAuthorizeAndCaptureFailedStatusIsDecline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ch_2","status":"failed"}`))
	}))
	defer srv.Close()

	g := &payment.HTTPGateway{BaseURL: srv.URL, SecretKey: "sk"}
	_, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.ErrorIs(t, err, payment.ErrDeclined)
}

func TestAuthorizeAndCaptureServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := &payment.HTTPGateway{BaseURL: srv.URL, SecretKey: "sk"}
	_, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.ErrorIs(t, err, payment.ErrGateway)
}

func TestAuthorizeAndCaptureUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	g := &payment.HTTPGateway{BaseURL: srv.URL, SecretKey: "sk", Timeout: time.Second}
	_, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.ErrorIs(t, err, payment.ErrGateway)
}

func TestAuthorizeAndCaptureUnconfigured(t *testing.T) {
	t.Parallel()

	var g *payment.HTTPGateway
	_, err := g.AuthorizeAndCapture(context.Background(), testCharge())
	require.ErrorIs(t, err, payment.ErrGateway)
}
