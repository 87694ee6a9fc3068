// Package payment talks to the card processor. Checkout depends only
// on the Gateway interface; the HTTP implementation targets a
// Stripe-style charges API.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

var (
	// ErrDeclined means the processor rejected the card. Not
	// retryable with the same instrument.
	ErrDeclined = errors.New("payment: declined")
	// ErrGateway means the processor could not be reached or answered
	// abnormally. Retryable with the same idempotency key.
	ErrGateway = errors.New("payment: gateway unavailable")
)

// Charge is one authorize-and-capture request.
type Charge struct {
	OrderID        uuid.UUID
	Amount         money.Amount
	Currency       string
	IdempotencyKey string
	Description    string
}

// Capture is the processor's settlement receipt.
type Capture struct {
	Reference  string
	CapturedAt time.Time
}

// Gateway authorizes and captures a charge in one step.
type Gateway interface {
	AuthorizeAndCapture(ctx context.Context, c Charge) (Capture, error)
}

// HTTPGateway implements Gateway against a charges endpoint.
type HTTPGateway struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
	Timeout   time.Duration
}

type chargeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AuthorizeAndCapture posts the charge. The idempotency key makes
// retries after a timeout safe: the processor replays the original
// outcome instead of charging twice.
func (g *HTTPGateway) AuthorizeAndCapture(ctx context.Context, c Charge) (Capture, error) {
	if g == nil || g.BaseURL == "" {
		return Capture{}, fmt.Errorf("%w: gateway not configured", ErrGateway)
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	minor := money.Quantize(c.Amount).Shift(2).IntPart()
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minor, 10))
	form.Set("currency", strings.ToLower(c.Currency))
	form.Set("capture", "true")
	form.Set("description", c.Description)
	form.Set("metadata[order_id]", c.OrderID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.BaseURL, "/")+"/v1/charges", strings.NewReader(form.Encode()))
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)
	req.Header.Set("Idempotency-Key", c.IdempotencyKey)

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Capture{}, fmt.Errorf("%w: read response: %v", ErrGateway, err)
	}
	var out chargeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Capture{}, fmt.Errorf("%w: malformed response: %v", ErrGateway, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && out.Status == "succeeded":
		return Capture{Reference: out.ID, CapturedAt: time.Now().UTC()}, nil
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusOK && out.Status == "failed",
		out.Error.Code == "card_declined":
		return Capture{}, fmt.Errorf("%w: %s", ErrDeclined, out.Error.Message)
	case resp.StatusCode >= 500:
		return Capture{}, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}
	return Capture{}, fmt.Errorf("%w: unexpected status %d (%s)", ErrGateway, resp.StatusCode, out.Error.Code)
}
