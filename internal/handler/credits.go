package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/service"
)

// webhookSignatureHeader carries the provider's HMAC over the raw body.
const webhookSignatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps webhook payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// CreditsHandler serves the credit balance, checkout, and the payment
// provider's webhook.
type CreditsHandler struct {
	credits *service.CreditsService
	logger  *slog.Logger
}

func NewCreditsHandler(credits *service.CreditsService, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{credits: credits, logger: logger}
}

// HandleSummary returns the balance and top-up history.
//
// GET /api/credits
func (h *CreditsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.credits.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleCreateCheckout opens a checkout session for a top-up amount.
//
// POST /api/credits/checkout
func (h *CreditsHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.credits.CreateCheckout(r.Context(), userID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleCancelTopUp cancels a pending top-up after the cool-down window.
//
// POST /api/credits/topups/{id}/cancel
func (h *CreditsHandler) HandleCancelTopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.credits.CancelTopUp(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// HandleWebhook settles checkout sessions from provider events. The HMAC is
// verified over the raw body before anything is parsed, so the body is read
// here rather than decoded.
//
// POST /api/billing/webhooks/copperx
func (h *CreditsHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "Could not read the request body."))
		return
	}

	if err := h.credits.HandleWebhook(r.Context(), body, r.Header.Get(webhookSignatureHeader)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
