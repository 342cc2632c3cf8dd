package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mintair/mintair-cloud/internal/service"
)

// SSHKeyHandler manages the user's registered SSH public keys.
type SSHKeyHandler struct {
	keys   *service.SSHKeyService
	logger *slog.Logger
}

func NewSSHKeyHandler(keys *service.SSHKeyService, logger *slog.Logger) *SSHKeyHandler {
	return &SSHKeyHandler{keys: keys, logger: logger}
}

// HandleAdd registers a public key.
//
// POST /api/ssh-keys
func (h *SSHKeyHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Name      string `json:"name"`
		PublicKey string `json:"publicKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.Add(r.Context(), userID, req.Name, req.PublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// HandleList returns the user's keys.
//
// GET /api/ssh-keys
func (h *SSHKeyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	keys, err := h.keys.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// HandleRename changes a key's display name.
//
// PATCH /api/ssh-keys/{id}
func (h *SSHKeyHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := h.keys.Rename(r.Context(), userID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// HandleDelete removes a key.
//
// DELETE /api/ssh-keys/{id}
func (h *SSHKeyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.keys.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
