package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/repository"
	"github.com/mintair/mintair-cloud/internal/service"
)

// MarketplaceHandler serves the public GPU catalogue and cost estimates.
type MarketplaceHandler struct {
	marketplace *service.MarketplaceService
	logger      *slog.Logger
}

func NewMarketplaceHandler(marketplace *service.MarketplaceService, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{marketplace: marketplace, logger: logger}
}

// HandleList returns the catalogue, optionally filtered and sorted.
//
// GET /api/marketplace?gpuType=&region=&maxPrice=&available=&sortBy=
func (h *MarketplaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.MarketplaceFilter{
		GPUType:  q.Get("gpuType"),
		Region:   q.Get("region"),
		Provider: q.Get("provider"),
		SortBy:   q.Get("sortBy"),
	}

	if raw := q.Get("maxPrice"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			writeError(w, apperror.ValidationFailed("maxPrice", "maxPrice must be a non-negative number."))
			return
		}
		filter.MaxPrice = price
	}

	if raw := q.Get("minVram"); raw != "" {
		vram, err := strconv.Atoi(raw)
		if err != nil || vram < 0 {
			writeError(w, apperror.ValidationFailed("minVram", "minVram must be a non-negative integer."))
			return
		}
		filter.MinVRAM = vram
	}

	if raw := q.Get("available"); raw != "" {
		avail, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, apperror.ValidationFailed("available", "available must be true or false."))
			return
		}
		filter.Available = avail
	}

	items, err := h.marketplace.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleGet returns one catalogue item by id or slug.
//
// GET /api/marketplace/{idOrSlug}
func (h *MarketplaceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.marketplace.Get(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleEstimate returns a projected cost for a configuration.
//
// POST /api/marketplace/estimate
func (h *MarketplaceHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req service.EstimateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	estimate, err := h.marketplace.EstimateCost(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}
