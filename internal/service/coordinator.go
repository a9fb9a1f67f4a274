package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/launchflow/helmsman/internal/adapter/otel"
	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/policy"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/port/broadcast"
	"github.com/launchflow/helmsman/internal/port/database"
	"github.com/launchflow/helmsman/internal/port/executor"
	"github.com/launchflow/helmsman/internal/resilience"
)

// CoordinatorService admits agent tasks. Every task passes the same gate
// sequence: emergency stop, phase policy, token budget, then the HITL
// governor. The first failing gate denies the task; a governor block parks
// the task behind an explicit approval request instead of denying it.
type CoordinatorService struct {
	store    database.Store
	audit    *AuditService
	stops    *StopService
	policy   *PolicyService
	budget   *BudgetService
	governor *GovernorService
	exec     executor.Executor
	breaker  *resilience.Breaker
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics
}

// NewCoordinatorService creates a new CoordinatorService.
func NewCoordinatorService(
	store database.Store,
	audit *AuditService,
	stops *StopService,
	policySvc *PolicyService,
	budgetSvc *BudgetService,
	governor *GovernorService,
	exec executor.Executor,
	breaker *resilience.Breaker,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
) *CoordinatorService {
	return &CoordinatorService{
		store:    store,
		audit:    audit,
		stops:    stops,
		policy:   policySvc,
		budget:   budgetSvc,
		governor: governor,
		exec:     exec,
		breaker:  breaker,
		hub:      hub,
		metrics:  metrics,
	}
}

// AdmitTask admits one ad-hoc agent task.
func (s *CoordinatorService) AdmitTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	return s.admit(ctx, req, "", nil, 1)
}

// AdmitForExecution admits one workflow-dispatched phase task. The same gate
// sequence applies; only the dispatch metadata differs.
func (s *CoordinatorService) AdmitForExecution(ctx context.Context, req task.CreateRequest, executionID string, expectedOutputs []string, attempt int) (*task.Task, error) {
	return s.admit(ctx, req, executionID, expectedOutputs, attempt)
}

func (s *CoordinatorService) admit(ctx context.Context, req task.CreateRequest, executionID string, expectedOutputs []string, attempt int) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	phase, archived, err := s.policy.ProjectState(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if archived {
		return nil, fmt.Errorf("%w: project %s is archived", domain.ErrValidation, req.ProjectID)
	}

	// Gate 1: emergency stop.
	if st, err := s.stops.ActiveFor(ctx, req.ProjectID, req.AgentType); err != nil {
		return nil, err
	} else if st != nil {
		return nil, s.deny(ctx, req, event.TypeTaskDeniedStop, "emergency_stop",
			&stop.ActiveError{Scope: st.Scope(), Reason: st.Reason}, st)
	}

	// Gate 2: phase policy.
	if req.Phase != "" {
		phase = project.Phase(req.Phase)
	}
	if ev := s.policy.Evaluate(phase, req.AgentType); ev.Status == policy.StatusDenied {
		return nil, s.deny(ctx, req, event.TypeTaskDeniedPolicy, "policy",
			ViolationFromEvaluation(ev, req.AgentType), ev)
	}

	// Gate 3: token budget.
	decision, err := s.budget.Check(ctx, req.ProjectID, req.AgentType, req.EstimatedTokens)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		return nil, s.deny(ctx, req, event.TypeTaskDeniedBudget, "budget",
			ExceededFromDecision(decision, req.ProjectID, req.AgentType, req.EstimatedTokens), decision)
	}

	// Gate 4: HITL governor.
	check, err := s.governor.CheckAction(ctx, req.ProjectID, req.SessionID)
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:                 uuid.NewString(),
		ProjectID:          req.ProjectID,
		WorkflowID:         req.WorkflowID,
		Phase:              req.Phase,
		AgentType:          req.AgentType,
		Status:             task.StatusPending,
		Instructions:       req.Instructions,
		ContextArtifactIDs: req.ContextArtifactIDs,
	}

	if !check.Allowed {
		return s.parkForApproval(ctx, req, t, check)
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, event.TypeTaskAdmitted, t.ProjectID, t.ID, t.AgentType, map[string]any{
		"phase":            string(phase),
		"workflow_id":      t.WorkflowID,
		"attempt":          attempt,
		"hitl_remaining":   check.Remaining,
		"estimated_tokens": req.EstimatedTokens,
	}); err != nil {
		return nil, err
	}
	s.metrics.TasksAdmitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent_type", string(t.AgentType))))

	if err := s.dispatch(ctx, t, executionID, expectedOutputs, attempt); err != nil {
		return t, err
	}
	return t, nil
}

// parkForApproval persists the task as waiting_for_approval and opens an
// explicit approval request for it. Not an error: the task proceeds once a
// human approves.
func (s *CoordinatorService) parkForApproval(ctx context.Context, req task.CreateRequest, t *task.Task, check *hitl.CheckResult) (*task.Task, error) {
	t.Status = task.StatusWaitingForApproval
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	comment := fmt.Sprintf("auto-approval %s for session %s", check.Reason, req.SessionID)
	r, err := s.governor.CreateApprovalRequest(ctx, t.ProjectID, t.ID, t.WorkflowID,
		t.AgentType, hitl.RequestTypeAction, float64(req.EstimatedTokens), comment)
	if err != nil {
		return nil, err
	}
	if err := s.store.AttachApprovalRequest(ctx, t.ID, r.ID); err != nil {
		return nil, err
	}
	t.ApprovalRequestID = r.ID

	if err := s.audit.Record(ctx, event.TypeTaskBlockedApproval, t.ProjectID, t.ID, t.AgentType, map[string]any{
		"approval_request_id": r.ID,
		"reason":              string(check.Reason),
	}); err != nil {
		return nil, err
	}
	s.metrics.ApprovalsRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(check.Reason))))

	slog.Info("task parked for approval",
		"task_id", t.ID, "request_id", r.ID, "reason", check.Reason)
	return t, nil
}

// deny records the denial in the audit trail, broadcasts it, bumps the
// denial counter, and returns the typed gate error.
func (s *CoordinatorService) deny(ctx context.Context, req task.CreateRequest, evType event.Type, reason string, gateErr error, detail any) error {
	if err := s.audit.Record(ctx, evType, req.ProjectID, "", req.AgentType, detail); err != nil {
		return err
	}
	s.hub.BroadcastEvent(ctx, denialBroadcast(reason), broadcast.DenialEvent{
		ProjectID: req.ProjectID,
		AgentType: string(req.AgentType),
		Reason:    reason,
		Detail:    gateErr.Error(),
	})
	s.metrics.TasksDenied.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent_type", string(req.AgentType)),
			attribute.String("reason", reason)))

	slog.Warn("task denied", "project_id", req.ProjectID, "agent_type", req.AgentType, "reason", reason)
	return gateErr
}

func denialBroadcast(reason string) string {
	switch reason {
	case "policy":
		return broadcast.EventPolicyViolation
	case "budget":
		return broadcast.EventBudgetDenied
	default:
		return broadcast.EventEmergencyStop
	}
}

// dispatch hands the task to a worker through the circuit breaker. A failed
// dispatch fails the task so it never sits pending forever.
func (s *CoordinatorService) dispatch(ctx context.Context, t *task.Task, executionID string, expectedOutputs []string, attempt int) error {
	err := s.breaker.Execute(func() error {
		return s.exec.Dispatch(ctx, t, executionID, expectedOutputs, attempt)
	})
	if err != nil {
		t.Status = task.StatusFailed
		t.Error = err.Error()
		if uerr := s.store.UpdateTaskResult(ctx, t.ID, task.StatusFailed, "", err.Error(), 0, 0); uerr != nil {
			slog.Error("mark task failed after dispatch error", "task_id", t.ID, "error", uerr)
		}
		return fmt.Errorf("dispatch task %s: %w", t.ID, err)
	}

	t.Status = task.StatusWorking
	if err := s.store.UpdateTaskStatus(ctx, t.ID, task.StatusWorking); err != nil {
		return err
	}
	return nil
}

// HandleDecision reacts to terminal action-type approval requests: approve
// dispatches the parked task, reject or expiry fails it. Phase-retry
// requests are the workflow engine's concern.
func (s *CoordinatorService) HandleDecision(ctx context.Context, r *hitl.Request) {
	if r.RequestType != hitl.RequestTypeAction || r.TaskID == "" {
		return
	}

	t, err := s.store.GetTask(ctx, r.TaskID)
	if err != nil {
		slog.Error("load task for approval decision", "task_id", r.TaskID, "error", err)
		return
	}
	if t.Status != task.StatusWaitingForApproval {
		return
	}

	switch r.Status {
	case hitl.StatusApproved:
		if err := s.dispatch(ctx, t, t.WorkflowID, nil, 1); err != nil {
			slog.Error("dispatch approved task", "task_id", t.ID, "error", err)
		}
	case hitl.StatusRejected, hitl.StatusExpired:
		reason := fmt.Sprintf("approval request %s %s", r.ID, r.Status)
		if err := s.store.UpdateTaskResult(ctx, t.ID, task.StatusFailed, "", reason, 0, 0); err != nil {
			slog.Error("fail task after approval decision", "task_id", t.ID, "error", err)
			return
		}
		if err := s.audit.Record(ctx, event.TypeTaskFailed, t.ProjectID, t.ID, t.AgentType, map[string]any{
			"reason": reason,
		}); err != nil {
			slog.Error("audit task failure", "task_id", t.ID, "error", err)
		}
	}
}
