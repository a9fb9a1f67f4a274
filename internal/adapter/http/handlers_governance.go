package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/middleware"
)

// GetHITLSettings handles GET /api/v1/projects/{id}/hitl/{session}.
func (h *Handlers) GetHITLSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.governor.GetSettings(r.Context(), urlParam(r, "id"), urlParam(r, "session"))
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateHITLSettings handles PUT /api/v1/projects/{id}/hitl/{session}.
func (h *Handlers) UpdateHITLSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[hitl.UpdateRequest](w, r)
	if !ok {
		return
	}
	st, err := h.governor.UpdateSettings(r.Context(), urlParam(r, "id"), urlParam(r, "session"), req)
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListPendingApprovals handles GET /api/v1/projects/{id}/approvals.
func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.governor.PendingRequests(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approvals not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.governor.GetApprovalRequest(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	Decision hitl.Decision `json:"decision"`
}

// RespondToApproval handles POST /api/v1/approvals/{id}/respond. The decided
// identity comes from the authenticated operator.
func (h *Handlers) RespondToApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	resolved, err := h.governor.Respond(r.Context(), urlParam(r, "id"), req.Decision, middleware.Operator(r.Context()))
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
