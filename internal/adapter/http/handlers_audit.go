package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/launchflow/helmsman/internal/domain/event"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// QueryAudit handles GET /api/v1/audit. Supported query parameters:
// project_id, task_id, type, after, before (RFC 3339), cursor and limit.
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := event.Filter{
		ProjectID: q.Get("project_id"),
		TaskID:    q.Get("task_id"),
		Type:      event.Type(q.Get("type")),
	}
	if raw := q.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC 3339")
			return
		}
		filter.After = &t
	}
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		filter.Before = &t
	}

	limit := defaultAuditLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	page, err := h.audit.Query(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		writeDomainError(w, err, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
