package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mintair/mintair-cloud/internal/model"
	"github.com/mintair/mintair-cloud/internal/service"
)

// InstanceHandler exposes the instance lifecycle over HTTP.
type InstanceHandler struct {
	instances *service.InstanceService
	logger    *slog.Logger
}

func NewInstanceHandler(instances *service.InstanceService, logger *slog.Logger) *InstanceHandler {
	return &InstanceHandler{instances: instances, logger: logger}
}

// HandleList returns all of the user's instances, terminated ones included.
//
// GET /api/instances
func (h *InstanceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	instances, err := h.instances.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

// HandleGet returns a single instance.
//
// GET /api/instances/{id}
func (h *InstanceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	inst, err := h.instances.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// HandleDeploy provisions a new instance, charging the first hour up front.
//
// POST /api/instances
func (h *InstanceHandler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inst, err := h.instances.Deploy(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// HandleStart starts a stopped instance.
//
// POST /api/instances/{id}/start
func (h *InstanceHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.instances.Start)
}

// HandleStop stops a running instance.
//
// POST /api/instances/{id}/stop
func (h *InstanceHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.instances.Stop)
}

// HandleRestart restarts a running or stopped instance.
//
// POST /api/instances/{id}/restart
func (h *InstanceHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.instances.Restart)
}

// HandleTerminate terminates an instance and frees its capacity.
//
// DELETE /api/instances/{id}
func (h *InstanceHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.instances.Terminate)
}

// HandleLogs returns the instance's provisioning and lifecycle log.
//
// GET /api/instances/{id}/logs
func (h *InstanceHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	logs, err := h.instances.Logs(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandleMetrics returns the trailing 24 hours of usage for an instance.
//
// GET /api/instances/{id}/metrics
func (h *InstanceHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	metrics, err := h.instances.Metrics(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

type transitionFunc func(ctx context.Context, userID, id string) (*model.Instance, error)

func (h *InstanceHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	inst, err := fn(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
