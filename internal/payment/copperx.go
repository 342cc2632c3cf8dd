// Package payment integrates the CopperX checkout API: creating hosted
// checkout sessions for credit top-ups and verifying the webhooks that
// report their outcome.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
)

// CheckoutSession is the subset of the provider's session object we use.
type CheckoutSession struct {
	ID          string
	CheckoutURL string
}

// Client talks to the CopperX REST API.
type Client struct {
	apiKey     string
	baseURL    string
	successURL string
	cancelURL  string
	allowFiat  bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a CopperX client. An empty apiKey leaves the client in a
// degraded mode where CreateCheckoutSession fails with an upstream error, so
// the rest of the billing surface keeps working in local development.
func NewClient(apiKey, baseURL, successURL, cancelURL string, allowFiat bool, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		successURL: successURL,
		cancelURL:  cancelURL,
		allowFiat:  allowFiat,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// usdcDecimals is the on-chain precision of USDC: unit amounts are the USD
// value shifted by 8 decimal places.
const usdcDecimals = 8

type lineItemPrice struct {
	Currency   string `json:"currency"`
	UnitAmount string `json:"unitAmount"`
	Type       string `json:"type"`
	ProductData struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"productData"`
}

type checkoutRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	LineItems  struct {
		Data []struct {
			Price    lineItemPrice `json:"price"`
			Quantity int           `json:"quantity"`
		} `json:"data"`
	} `json:"lineItems"`
	PaymentSetting struct {
		AllowSwap bool `json:"allowSwap"`
	} `json:"paymentSetting"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type checkoutResponse struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Data struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	} `json:"data"`
}

// CreateCheckoutSession opens a hosted checkout for the given USD amount and
// returns the provider session id plus the URL to redirect the user to.
func (c *Client) CreateCheckoutSession(ctx context.Context, amountUSD decimal.Decimal, metadata map[string]string) (*CheckoutSession, error) {
	if c.apiKey == "" {
		return nil, apperror.Upstream("Payments are not configured. Please contact support.")
	}

	var req checkoutRequest
	req.SuccessURL = c.successURL
	req.CancelURL = c.cancelURL
	req.PaymentSetting.AllowSwap = c.allowFiat
	req.Metadata = metadata

	var price lineItemPrice
	price.Currency = "usdc"
	price.UnitAmount = amountUSD.Shift(usdcDecimals).StringFixed(0)
	price.Type = "one_time"
	price.ProductData.Name = "Mintair credits"
	price.ProductData.Description = fmt.Sprintf("Credit top-up of $%s", amountUSD.StringFixed(2))

	req.LineItems.Data = append(req.LineItems.Data, struct {
		Price    lineItemPrice `json:"price"`
		Quantity int           `json:"quantity"`
	}{Price: price, Quantity: 1})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("payment: marshaling checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment: building checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("copperx checkout request failed", slog.Any("error", err))
		return nil, apperror.Upstream("The payment provider is unreachable. Please try again later.")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.Error("copperx rejected the API key", slog.Int("status", resp.StatusCode))
		return nil, apperror.Upstream("The payment provider rejected our credentials. Please contact support.")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("copperx checkout returned an error", slog.Int("status", resp.StatusCode))
		return nil, apperror.Upstream("The payment provider could not create a checkout session. Please try again later.")
	}

	var parsed checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("payment: decoding checkout response: %w", err)
	}

	session := &CheckoutSession{ID: parsed.ID, CheckoutURL: parsed.URL}
	if session.ID == "" {
		session.ID = parsed.Data.ID
	}
	if session.CheckoutURL == "" {
		session.CheckoutURL = parsed.Data.URL
	}
	if session.ID == "" || session.CheckoutURL == "" {
		return nil, apperror.Upstream("The payment provider returned an unexpected response. Please try again later.")
	}
	return session, nil
}
