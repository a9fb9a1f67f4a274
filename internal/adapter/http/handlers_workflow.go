package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/service"
)

// ListDefinitions handles GET /api/v1/workflows/definitions.
func (h *Handlers) ListDefinitions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"definitions": h.defs.List()})
}

// StartWorkflow handles POST /api/v1/workflows.
func (h *Handlers) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.StartRequest](w, r)
	if !ok {
		return
	}
	exec, err := h.engine.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "workflow not started")
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// GetWorkflow handles GET /api/v1/workflows/{id}.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// GetActiveWorkflow handles GET /api/v1/projects/{id}/workflow.
func (h *Handlers) GetActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.ActiveForProject(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no active workflow")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// PauseWorkflow handles POST /api/v1/workflows/{id}/pause.
func (h *Handlers) PauseWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[pauseRequest](w, r)
	if !ok {
		return
	}
	exec, err := h.engine.Pause(r.Context(), urlParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// ResumeWorkflow handles POST /api/v1/workflows/{id}/resume.
func (h *Handlers) ResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel.
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[cancelRequest](w, r)
	if !ok {
		return
	}
	exec, err := h.engine.Cancel(r.Context(), urlParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
