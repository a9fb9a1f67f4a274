package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/policy"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/workflow"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps domain and admission-gate errors to HTTP statuses.
// Gate denials carry a structured detail payload so callers can present
// actionable guidance.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var (
		stopErr *stop.ActiveError
		polErr  *policy.ViolationError
		budErr  *budget.ExceededError
		exhErr  *hitl.ExhaustedError
		expErr  *hitl.RequestExpiredError
	)
	switch {
	case errors.As(err, &stopErr):
		writeJSON(w, http.StatusLocked, errorResponse{Error: stopErr.Error(), Detail: map[string]string{
			"scope":  stopErr.Scope,
			"reason": stopErr.Reason,
		}})
	case errors.As(err, &polErr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: polErr.Error(), Detail: map[string]any{
			"current_phase":  polErr.CurrentPhase,
			"allowed_agents": polErr.AllowedAgents,
		}})
	case errors.As(err, &budErr):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: budErr.Error(), Detail: map[string]any{
			"limit_type": budErr.LimitType,
			"limit":      budErr.Limit,
			"used":       budErr.Used,
			"requested":  budErr.Requested,
		}})
	case errors.As(err, &exhErr):
		writeError(w, http.StatusTooManyRequests, exhErr.Error())
	case errors.As(err, &expErr):
		writeError(w, http.StatusGone, expErr.Error())
	case errors.Is(err, workflow.ErrActiveExecution):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrNotPaused) || errors.Is(err, workflow.ErrExecutionTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrInvalidDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified by another request")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	default:
		slog.Error("unhandled domain error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
