package http

import (
	"net/http"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// GetBudget handles GET /api/v1/projects/{id}/budgets/{agent}.
func (h *Handlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	agentType := agent.Type(urlParam(r, "agent"))
	if !agent.Known(agentType) {
		writeError(w, http.StatusBadRequest, "unknown agent type")
		return
	}
	b, err := h.budgets.Get(r.Context(), urlParam(r, "id"), agentType)
	if err != nil {
		writeDomainError(w, err, "budget not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}
