package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Governance
// mutations (approvals, HITL settings, emergency stops, workflow control)
// require an operator key when auth is enabled.
func MountRoutes(r chi.Router, h *Handlers, authCfg config.Auth) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Post("/projects/{id}/phase", h.AdvanceProjectPhase)
		r.Delete("/projects/{id}", h.ArchiveProject)

		// Tasks (nested under projects + direct access)
		r.Post("/projects/{id}/tasks", h.CreateTask)
		r.Get("/projects/{id}/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)

		// Workflows
		r.Get("/workflows/definitions", h.ListDefinitions)
		r.Post("/workflows", h.StartWorkflow)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Get("/projects/{id}/workflow", h.GetActiveWorkflow)

		// Artifacts (nested under projects + direct access)
		r.Get("/projects/{id}/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{id}", h.GetArtifact)

		// Budgets
		r.Get("/projects/{id}/budgets/{agent}", h.GetBudget)

		// Approvals (reads)
		r.Get("/projects/{id}/approvals", h.ListPendingApprovals)
		r.Get("/approvals/{id}", h.GetApproval)

		// HITL settings (read)
		r.Get("/projects/{id}/hitl/{session}", h.GetHITLSettings)

		// Emergency stops (reads)
		r.Get("/stops", h.ListStops)
		r.Get("/stops/{id}", h.GetStop)

		// Audit trail
		r.Get("/audit", h.QueryAudit)

		// Governance mutations (operator key)
		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(authCfg.OperatorKeyHash, authCfg.Enabled))

			r.Post("/approvals/{id}/respond", h.RespondToApproval)
			r.Put("/projects/{id}/hitl/{session}", h.UpdateHITLSettings)

			r.Post("/stops", h.TriggerStop)
			r.Post("/stops/{id}/deactivate", h.DeactivateStop)

			r.Post("/workflows/{id}/pause", h.PauseWorkflow)
			r.Post("/workflows/{id}/resume", h.ResumeWorkflow)
			r.Post("/workflows/{id}/cancel", h.CancelWorkflow)
		})
	})
}
