// Package http implements the HTTP API adapter.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/launchflow/helmsman/internal/adapter/ws"
	"github.com/launchflow/helmsman/internal/port/database"
	"github.com/launchflow/helmsman/internal/port/messagequeue"
	"github.com/launchflow/helmsman/internal/service"
)

const healthTimeout = 3 * time.Second

// Handlers holds the service dependencies for all HTTP handlers.
type Handlers struct {
	projects  *service.ProjectService
	tasks     *service.TaskService
	coord     *service.CoordinatorService
	engine    *service.WorkflowEngine
	governor  *service.GovernorService
	budgets   *service.BudgetService
	stops     *service.StopService
	artifacts *service.ArtifactService
	audit     *service.AuditService
	defs      *service.DefinitionRegistry
	store     database.Store
	queue     messagequeue.Queue
	hub       *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(
	projects *service.ProjectService,
	tasks *service.TaskService,
	coord *service.CoordinatorService,
	engine *service.WorkflowEngine,
	governor *service.GovernorService,
	budgets *service.BudgetService,
	stops *service.StopService,
	artifacts *service.ArtifactService,
	audit *service.AuditService,
	defs *service.DefinitionRegistry,
	store database.Store,
	queue messagequeue.Queue,
	hub *ws.Hub,
) *Handlers {
	return &Handlers{
		projects:  projects,
		tasks:     tasks,
		coord:     coord,
		engine:    engine,
		governor:  governor,
		budgets:   budgets,
		stops:     stops,
		artifacts: artifacts,
		audit:     audit,
		defs:      defs,
		store:     store,
		queue:     queue,
		hub:       hub,
	}
}

// Health reports liveness of the database and queue connections.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.store.Ping(ctx); err != nil {
		db = "unreachable"
		status = http.StatusServiceUnavailable
	}
	queue := "ok"
	if !h.queue.IsConnected() {
		queue = "disconnected"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"database":   db,
		"queue":      queue,
		"ws_clients": h.hub.ConnectionCount(),
	})
}
