package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/domain/project"
)

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	projects, err := h.projects.List(r.Context(), includeArchived)
	if err != nil {
		writeDomainError(w, err, "projects not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[project.CreateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.projects.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "project not created")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetProject handles GET /api/v1/projects/{id}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type advancePhaseRequest struct {
	Phase   project.Phase `json:"phase"`
	Version int           `json:"version"`
}

// AdvanceProjectPhase handles POST /api/v1/projects/{id}/phase.
func (h *Handlers) AdvanceProjectPhase(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[advancePhaseRequest](w, r)
	if !ok {
		return
	}
	p, err := h.projects.AdvancePhase(r.Context(), urlParam(r, "id"), req.Phase, req.Version)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ArchiveProject handles DELETE /api/v1/projects/{id}.
func (h *Handlers) ArchiveProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.Archive(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
