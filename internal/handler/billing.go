package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/service"
)

// BillingHandler serves the ledger, invoices, and stored payment methods.
type BillingHandler struct {
	billing *service.BillingService
	logger  *slog.Logger
}

func NewBillingHandler(billing *service.BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, logger: logger}
}

// HandleOverview returns the billing page summary.
//
// GET /api/billing
func (h *BillingHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	overview, err := h.billing.Overview(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// HandleHistory returns the billing ledger, newest first.
//
// GET /api/billing/history?limit=
func (h *BillingHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a non-negative integer."))
			return
		}
		limit = n
	}

	records, err := h.billing.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleUsage returns the last 30 days of metered usage.
//
// GET /api/billing/usage
func (h *BillingHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	breakdown, err := h.billing.Usage(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// HandleAddPaymentMethod stores a card. Only the brand and last four digits
// are retained.
//
// POST /api/billing/payment-methods
func (h *BillingHandler) HandleAddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.AddPaymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	method, err := h.billing.AddPaymentMethod(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

// HandleListPaymentMethods returns the stored payment methods.
//
// GET /api/billing/payment-methods
func (h *BillingHandler) HandleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	methods, err := h.billing.ListPaymentMethods(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

// HandleSetDefaultPaymentMethod marks one method as the default.
//
// POST /api/billing/payment-methods/{id}/default
func (h *BillingHandler) HandleSetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.billing.SetDefaultPaymentMethod(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "default_set"})
}

// HandleDeletePaymentMethod removes a stored payment method.
//
// DELETE /api/billing/payment-methods/{id}
func (h *BillingHandler) HandleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.billing.DeletePaymentMethod(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
