package http

import "net/http"

// ListArtifacts handles GET /api/v1/projects/{id}/artifacts.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.artifacts.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifacts not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

// GetArtifact handles GET /api/v1/artifacts/{id}.
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.artifacts.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
