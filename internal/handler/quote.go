package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/service"
)

// QuoteHandler accepts bulk-capacity quote requests.
type QuoteHandler struct {
	quotes *service.QuoteService
	logger *slog.Logger
}

func NewQuoteHandler(quotes *service.QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, logger: logger}
}

// HandleSubmit files a new quote request for out-of-band review.
//
// POST /api/quotes
func (h *QuoteHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req model.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	quote, err := h.quotes.Submit(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

// HandleWithdraw pulls a pending quote out of the review queue.
//
// POST /api/quotes/{id}/withdraw
func (h *QuoteHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.quotes.Withdraw(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// HandleList returns the user's quote requests.
//
// GET /api/quotes
func (h *QuoteHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	quotes, err := h.quotes.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}
