package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/middleware"
)

// ListStops handles GET /api/v1/stops.
func (h *Handlers) ListStops(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	stops, err := h.stops.List(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err, "stops not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stops": stops})
}

// TriggerStop handles POST /api/v1/stops.
func (h *Handlers) TriggerStop(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[stop.TriggerRequest](w, r)
	if !ok {
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = middleware.Operator(r.Context())
	}
	st, err := h.stops.Trigger(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "stop not created")
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// GetStop handles GET /api/v1/stops/{id}.
func (h *Handlers) GetStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.stops.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "stop not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeactivateStop handles POST /api/v1/stops/{id}/deactivate.
func (h *Handlers) DeactivateStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.stops.Deactivate(r.Context(), urlParam(r, "id"), middleware.Operator(r.Context()))
	if err != nil {
		writeDomainError(w, err, "stop not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
