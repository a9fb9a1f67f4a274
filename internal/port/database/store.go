// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/artifact"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/domain/workflow"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects
	ListProjects(ctx context.Context, includeArchived bool) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	UpdateProjectPhase(ctx context.Context, id string, phase project.Phase, version int) (*project.Project, error)
	ArchiveProject(ctx context.Context, id string) error

	// Tasks
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, t *task.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
	UpdateTaskResult(ctx context.Context, id string, status task.Status, output, errMsg string, tokensUsed int64, costUSD float64) error
	AttachApprovalRequest(ctx context.Context, taskID, requestID string) error

	// Workflow executions
	CreateExecution(ctx context.Context, exec *workflow.Execution) error
	GetExecution(ctx context.Context, id string) (*workflow.Execution, error)
	ActiveExecutionForProject(ctx context.Context, projectID string) (*workflow.Execution, error)
	ListActiveExecutions(ctx context.Context) ([]workflow.Execution, error)
	UpdateExecution(ctx context.Context, exec *workflow.Execution) error

	// Context artifacts (write-once)
	CreateArtifact(ctx context.Context, a *artifact.Artifact) error
	GetArtifact(ctx context.Context, id string) (*artifact.Artifact, error)
	ListArtifacts(ctx context.Context, projectID string) ([]artifact.Artifact, error)

	// HITL settings and approval requests
	EnsureSettings(ctx context.Context, projectID, sessionID string, limit int) (*hitl.Settings, error)
	GetSettings(ctx context.Context, projectID, sessionID string) (*hitl.Settings, error)
	UpdateSettings(ctx context.Context, projectID, sessionID string, req hitl.UpdateRequest) (*hitl.Settings, error)
	// ConsumeAction atomically decrements the remaining-actions counter.
	// Returns the remaining count and false when the counter was already
	// exhausted or auto-approval is disabled.
	ConsumeAction(ctx context.Context, projectID, sessionID string) (remaining int, ok bool, err error)

	CreateApprovalRequest(ctx context.Context, r *hitl.Request) error
	GetApprovalRequest(ctx context.Context, id string) (*hitl.Request, error)
	PendingApprovalRequests(ctx context.Context, projectID string) ([]hitl.Request, error)
	// ResolveApprovalRequest transitions a pending request to the given
	// terminal status. Returns domain.ErrConflict when the request is no
	// longer pending.
	ResolveApprovalRequest(ctx context.Context, id string, status hitl.RequestStatus, decidedBy string) (*hitl.Request, error)
	// ExpireApprovalRequests marks pending requests past their deadline
	// expired and returns them.
	ExpireApprovalRequests(ctx context.Context, now time.Time) ([]hitl.Request, error)

	// Budgets
	GetBudget(ctx context.Context, projectID string, agentType agent.Type) (*budget.Budget, error)
	EnsureBudget(ctx context.Context, projectID string, agentType agent.Type, daily, session int64) (*budget.Budget, error)
	// ResetBudgetWindow zeroes the daily counter and restarts the window.
	ResetBudgetWindow(ctx context.Context, projectID string, agentType agent.Type, startedAt time.Time) error
	// RecordUsage adds usage exactly once per task. The second call for the
	// same task is a no-op returning false.
	RecordUsage(ctx context.Context, projectID string, agentType agent.Type, taskID string, tokens int64, costUSD float64) (recorded bool, err error)

	// Emergency stops
	CreateStop(ctx context.Context, s *stop.Stop) error
	GetStop(ctx context.Context, id string) (*stop.Stop, error)
	ListStops(ctx context.Context, activeOnly bool) ([]stop.Stop, error)
	// ActiveStopFor returns the first active stop matching the scope, or nil.
	ActiveStopFor(ctx context.Context, projectID string, agentType agent.Type) (*stop.Stop, error)
	DeactivateStop(ctx context.Context, id, deactivatedBy string) (*stop.Stop, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error
}
