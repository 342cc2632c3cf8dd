package handler_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintair/mintair-cloud/internal/config"
	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/server"
)

const testWebhookSecret = "whsec_handler_test"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Addr:                    ":0",
		Env:                     "test",
		DBPath:                  ":memory:",
		SessionSecret:           "handler-test-session-secret",
		SessionCookieName:       "mintair_session",
		SessionTTLHours:         168,
		BcryptCost:              10,
		ReferralRewardUSD:       "25.00",
		DefaultCreditUSD:        "100.00",
		TopUpCancelCooldownMins: 15,
		CopperxWebhookSecret:    testWebhookSecret,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := server.New(cfg, logger)
	require.NoError(t, err)

	return srv.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

const testPassword = "Sup3r$ecret1"

// signup creates a verified account and returns session cookies from a
// fresh login.
func signup(t *testing.T, router http.Handler, email string) []*http.Cookie {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": testPassword,
		"fullName": "Test User",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeBody[struct {
		VerificationToken string `json:"verificationToken"`
	}](t, rec)
	require.NotEmpty(t, created.VerificationToken)

	rec = doJSON(t, router, http.MethodPost, "/api/auth/verify-email", map[string]string{
		"token": created.VerificationToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestLoginRequiresVerifiedEmail(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"email":    "pending@example.com",
		"password": testPassword,
		"fullName": "Pending User",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// No session exists until the address is verified.
	for _, c := range rec.Result().Cookies() {
		assert.NotEqual(t, "mintair_session", c.Name)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "pending@example.com",
		"password": testPassword,
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	resp := decodeBody[struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}](t, rec)
	assert.Equal(t, "forbidden", resp.Error)
	assert.Equal(t, "Please verify your email before logging in.", resp.Message)
}

func TestVerifiedLoginIssuesSessionCookie(t *testing.T) {
	router := newTestRouter(t)

	cookies := signup(t, router, "alice@example.com")

	var session *http.Cookie
	for _, c := range cookies {
		if c.Name == "mintair_session" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Value)
	assert.True(t, session.HttpOnly)

	rec := doJSON(t, router, http.MethodGet, "/api/auth/me", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[struct {
		User model.User `json:"user"`
	}](t, rec)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.True(t, resp.User.CreditBalance.Equal(decimal.NewFromInt(100)), resp.User.CreditBalance.String())
	assert.NotEmpty(t, resp.User.ReferralCode)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/auth/me", "/api/dashboard", "/api/instances", "/api/billing"} {
		rec := doJSON(t, router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	router := newTestRouter(t)
	signup(t, router, "bob@example.com")

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "wrong-password-123",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	resp := decodeBody[struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}](t, rec)
	assert.Equal(t, "unauthorized", resp.Error)
	assert.Equal(t, "Invalid email or password.", resp.Message)
}

func TestMarketplaceIsPublic(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/marketplace", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	items := decodeBody[[]*model.MarketplaceItem](t, rec)
	assert.Len(t, items, 6)

	rec = doJSON(t, router, http.MethodGet, "/api/marketplace?maxPrice=cheap", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Equal(t, "maxPrice", resp.Field)
}

func TestDeployChargesThroughTheAPI(t *testing.T) {
	router := newTestRouter(t)
	cookies := signup(t, router, "carol@example.com")

	rec := doJSON(t, router, http.MethodGet, "/api/marketplace?sortBy=price_asc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]*model.MarketplaceItem](t, rec)
	require.NotEmpty(t, items)
	cheapest := items[0]

	rec = doJSON(t, router, http.MethodPost, "/api/instances", map[string]string{
		"marketplaceItemId": cheapest.ID,
		"name":              "train-run-1",
	}, cookies)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	inst := decodeBody[model.Instance](t, rec)
	assert.Equal(t, model.StatusProvisioning, inst.Status)
	assert.Equal(t, "train-run-1", inst.Name)

	rec = doJSON(t, router, http.MethodGet, "/api/credits", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[struct {
		Balance decimal.Decimal `json:"balance"`
	}](t, rec)
	assert.True(t, summary.Balance.Equal(decimal.RequireFromString("99.02")), summary.Balance.String())

	rec = doJSON(t, router, http.MethodGet, "/api/instances", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]*model.Instance](t, rec)
	assert.Len(t, list, 1)
}

func TestDeployWithInsufficientCreditsReturns402(t *testing.T) {
	router := newTestRouter(t)
	cookies := signup(t, router, "dave@example.com")

	rec := doJSON(t, router, http.MethodGet, "/api/marketplace?sortBy=price_desc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]*model.MarketplaceItem](t, rec)
	require.NotEmpty(t, items)
	priciest := items[0]

	// The H100 costs 6.90/hour against a 100.00 starter balance, so burn
	// the balance down with repeated deploys until one is refused.
	var last *httptest.ResponseRecorder
	for i := 0; i < 20; i++ {
		last = doJSON(t, router, http.MethodPost, "/api/instances", map[string]string{
			"marketplaceItemId": priciest.ID,
			"name":              fmt.Sprintf("burn-%d", i),
		}, cookies)
		if last.Code != http.StatusCreated {
			break
		}
	}
	require.Equal(t, http.StatusPaymentRequired, last.Code)

	errResp := decodeBody[struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}](t, last)
	assert.Equal(t, "payment_required", errResp.Error)
	assert.Equal(t, "Insufficient credits. Please top up your balance to deploy this instance.", errResp.Message)
}

func signWebhook(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	router := newTestRouter(t)

	body := []byte(`{"id":"evt_1","type":"checkout_session.paid","data":{"id":"cs_unknown"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhooks/copperx", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	resp := decodeBody[struct {
		Error string `json:"error"`
	}](t, rec)
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestWebhookAcknowledgesSignedEvents(t *testing.T) {
	router := newTestRouter(t)

	// Unknown event types and unknown sessions are acknowledged so the
	// provider stops retrying.
	for _, body := range []string{
		`{"id":"evt_2","type":"customer.updated","data":{"id":"cus_1"}}`,
		`{"id":"evt_3","type":"checkout_session.paid","data":{"id":"cs_never_created"}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/billing/webhooks/copperx", bytes.NewReader([]byte(body)))
		req.Header.Set("X-Webhook-Signature", signWebhook([]byte(body)))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, body)
	}
}

func TestDocsEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/docs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decodeBody[[]struct {
		Slug string `json:"slug"`
	}](t, rec)
	assert.NotEmpty(t, pages)

	rec = doJSON(t, router, http.MethodGet, "/api/docs/"+pages[0].Slug, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/docs/no-such-page", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSHKeyLifecycleThroughTheAPI(t *testing.T) {
	router := newTestRouter(t)
	cookies := signup(t, router, "erin@example.com")

	rec := doJSON(t, router, http.MethodPost, "/api/ssh-keys", map[string]string{
		"name":      "laptop",
		"publicKey": "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIHdJomjzLW10V5e9rBKh4430jDHT2ao2/7RonDamfiLy erin@laptop",
	}, cookies)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	key := decodeBody[model.SSHKey](t, rec)
	assert.Equal(t, "laptop", key.Name)
	assert.Contains(t, key.Fingerprint, "SHA256:")

	rec = doJSON(t, router, http.MethodGet, "/api/ssh-keys", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := decodeBody[[]*model.SSHKey](t, rec)
	assert.Len(t, keys, 1)

	rec = doJSON(t, router, http.MethodPatch, "/api/ssh-keys/"+key.ID, map[string]string{
		"name": "workstation",
	}, cookies)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	renamed := decodeBody[model.SSHKey](t, rec)
	assert.Equal(t, "workstation", renamed.Name)

	rec = doJSON(t, router, http.MethodDelete, "/api/ssh-keys/"+key.ID, nil, cookies)
	assert.Equal(t, http.StatusOK, rec.Code)
}
