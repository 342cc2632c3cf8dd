package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mintair/mintair-cloud/internal/service"
)

// DocsHandler serves the public documentation pages.
type DocsHandler struct {
	docs   *service.DocsService
	logger *slog.Logger
}

func NewDocsHandler(docs *service.DocsService, logger *slog.Logger) *DocsHandler {
	return &DocsHandler{docs: docs, logger: logger}
}

// HandleList returns the table of contents, filtered by ?q= when present.
//
// GET /api/docs?q=
func (h *DocsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if query := r.URL.Query().Get("q"); query != "" {
		writeJSON(w, http.StatusOK, h.docs.Search(r.Context(), query))
		return
	}
	writeJSON(w, http.StatusOK, h.docs.List(r.Context()))
}

// HandleGet returns a single page with its body.
//
// GET /api/docs/{slug}
func (h *DocsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	page, err := h.docs.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
