package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/domain/task"
)

// ListTasks handles GET /api/v1/projects/{id}/tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// CreateTask handles POST /api/v1/projects/{id}/tasks. The task passes the
// full admission gate sequence; a blocked task comes back 202 with its
// approval request attached.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	req.ProjectID = urlParam(r, "id")

	t, err := h.coord.AdmitTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not admitted")
		return
	}
	if t.Status == task.StatusWaitingForApproval {
		writeJSON(w, http.StatusAccepted, t)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}
