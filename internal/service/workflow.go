package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/launchflow/helmsman/internal/adapter/otel"
	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/handoff"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/policy"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/domain/workflow"
	"github.com/launchflow/helmsman/internal/port/broadcast"
	"github.com/launchflow/helmsman/internal/port/database"
	"github.com/launchflow/helmsman/internal/port/executor"
	"github.com/launchflow/helmsman/internal/port/messagequeue"
)

// StartRequest holds the fields needed to start a workflow execution.
type StartRequest struct {
	ProjectID      string         `json:"project_id"`
	DefinitionName string         `json:"definition_name"`
	SessionID      string         `json:"session_id"`
	Context        map[string]any `json:"context,omitempty"`
}

// Validate checks the start request for required fields.
func (r *StartRequest) Validate() error {
	if r.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if r.DefinitionName == "" {
		return errors.New("definition_name is required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}

// WorkflowEngine drives workflow executions. All progression goes through
// workflow.NextAction over the persisted execution state, so a restarted
// process resumes exactly where the previous one stopped.
type WorkflowEngine struct {
	store       database.Store
	defs        *DefinitionRegistry
	coordinator *CoordinatorService
	governor    *GovernorService
	artifacts   *ArtifactService
	audit       *AuditService
	exec        executor.Executor
	hub         broadcast.Broadcaster
	metrics     *otel.Metrics
	cfg         config.Workflow

	retryMu sync.Mutex
	retries map[string]struct{}

	now func() time.Time // for testing
}

// NewWorkflowEngine creates a new WorkflowEngine.
func NewWorkflowEngine(
	store database.Store,
	defs *DefinitionRegistry,
	coordinator *CoordinatorService,
	governor *GovernorService,
	artifacts *ArtifactService,
	audit *AuditService,
	exec executor.Executor,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Workflow,
) *WorkflowEngine {
	return &WorkflowEngine{
		store:       store,
		defs:        defs,
		coordinator: coordinator,
		governor:    governor,
		artifacts:   artifacts,
		audit:       audit,
		exec:        exec,
		hub:         hub,
		metrics:     metrics,
		cfg:         cfg,
		retries:     make(map[string]struct{}),
		now:         time.Now,
	}
}

// Start begins a new execution at the definition's entry phase. A project
// can have at most one non-terminal execution.
func (s *WorkflowEngine) Start(ctx context.Context, req StartRequest) (*workflow.Execution, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	def, err := s.defs.Get(req.DefinitionName)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if p.Archived {
		return nil, fmt.Errorf("%w: project %s is archived", domain.ErrValidation, p.ID)
	}

	exec := &workflow.Execution{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		DefinitionName: def.Name,
		SessionID:      req.SessionID,
		CurrentPhase:   def.EntryPhase(),
		Status:         workflow.StatusRunning,
		Context:        req.Context,
	}
	if exec.Context == nil {
		exec.Context = make(map[string]any)
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowStarted, exec.ProjectID, "", "", exec); err != nil {
		return nil, err
	}
	s.broadcastStatus(ctx, exec)
	slog.Info("workflow started",
		"execution_id", exec.ID, "project_id", exec.ProjectID, "definition", def.Name)

	if err := s.drive(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// Get returns one execution by ID.
func (s *WorkflowEngine) Get(ctx context.Context, id string) (*workflow.Execution, error) {
	return s.store.GetExecution(ctx, id)
}

// ActiveForProject returns the project's non-terminal execution, if any.
func (s *WorkflowEngine) ActiveForProject(ctx context.Context, projectID string) (*workflow.Execution, error) {
	return s.store.ActiveExecutionForProject(ctx, projectID)
}

// Pause suspends a running execution. In-flight tasks finish; their results
// are recorded but no new phases are dispatched until Resume.
func (s *WorkflowEngine) Pause(ctx context.Context, id, reason string) (*workflow.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, workflow.ErrExecutionTerminal
	}
	if exec.Status == workflow.StatusPaused {
		return exec, nil
	}

	exec.Status = workflow.StatusPaused
	exec.PauseReason = reason
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowPaused, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
		"reason":       reason,
	}); err != nil {
		return nil, err
	}
	s.broadcastStatus(ctx, exec)
	return exec, nil
}

// Resume continues a paused execution from its persisted state.
func (s *WorkflowEngine) Resume(ctx context.Context, id string) (*workflow.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, workflow.ErrExecutionTerminal
	}
	if exec.Status != workflow.StatusPaused {
		return nil, workflow.ErrNotPaused
	}

	exec.Status = workflow.StatusRunning
	exec.PauseReason = ""
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowResumed, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
	}); err != nil {
		return nil, err
	}
	s.broadcastStatus(ctx, exec)

	if err := s.drive(ctx, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// Cancel terminates an execution and asks workers to abandon its in-flight
// tasks. Cancellation of dispatched work is best effort.
func (s *WorkflowEngine) Cancel(ctx context.Context, id, reason string) (*workflow.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, workflow.ErrExecutionTerminal
	}

	for i := range exec.History {
		rec := &exec.History[i]
		if rec.Status != workflow.PhaseDispatched || rec.TaskID == "" {
			continue
		}
		if err := s.exec.Cancel(ctx, rec.TaskID, exec.ID, reason); err != nil {
			slog.Warn("cancel in-flight task", "task_id", rec.TaskID, "error", err)
		}
	}

	exec.Status = workflow.StatusCancelled
	exec.FailureReason = reason
	now := s.now()
	exec.CompletedAt = &now
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowCancelled, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
		"reason":       reason,
	}); err != nil {
		return nil, err
	}
	s.broadcastStatus(ctx, exec)
	slog.Info("workflow cancelled", "execution_id", exec.ID, "reason", reason)
	return exec, nil
}

// ResumeAll re-drives every non-terminal execution. Called once at startup:
// NextAction re-derives the pending work from persisted state, so dispatches
// lost to a crash are re-issued and settled ones are not.
func (s *WorkflowEngine) ResumeAll(ctx context.Context) error {
	execs, err := s.store.ListActiveExecutions(ctx)
	if err != nil {
		return err
	}
	for i := range execs {
		exec := &execs[i]
		if exec.Status != workflow.StatusRunning {
			continue
		}
		if err := s.drive(ctx, exec); err != nil {
			slog.Error("resume execution", "execution_id", exec.ID, "error", err)
		}
	}
	slog.Info("resumed active executions", "count", len(execs))
	return nil
}

// HandleResult applies one phase result to its execution and advances it.
func (s *WorkflowEngine) HandleResult(ctx context.Context, executionID string, res *workflow.PhaseResult) error {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		slog.Info("result for terminal execution ignored",
			"execution_id", exec.ID, "task_id", res.TaskID)
		return nil
	}

	idx := -1
	for i := len(exec.History) - 1; i >= 0; i-- {
		if exec.History[i].TaskID == res.TaskID && exec.History[i].Status == workflow.PhaseDispatched {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: task %s", workflow.ErrPhaseResultMismatch, res.TaskID)
	}
	rec := &exec.History[idx]

	ended := s.now()
	rec.EndedAt = &ended
	taskStatus := task.StatusCompleted
	if res.Success {
		rec.Status = workflow.PhaseCompleted
		for k, v := range res.Output {
			exec.SetVar(k, v)
		}
	} else {
		rec.Status = workflow.PhaseFailed
		rec.Error = res.Error
		taskStatus = task.StatusFailed
		if !res.Retryable {
			// Exhaust the attempt budget so the next derivation escalates
			// instead of retrying a permanent failure.
			rec.Attempt = s.cfg.MaxAttempts
		}
	}

	var output string
	if len(res.Output) > 0 {
		if data, err := json.Marshal(res.Output); err == nil {
			output = string(data)
		}
	}
	if err := s.store.UpdateTaskResult(ctx, res.TaskID, taskStatus, output, res.Error, res.TokensUsed, res.CostUSD); err != nil &&
		!errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if res.TokensUsed > 0 || res.CostUSD > 0 {
		if err := s.coordinator.budget.RecordUsage(ctx, exec.ProjectID, rec.AgentType, res.TaskID, res.TokensUsed, res.CostUSD); err != nil {
			slog.Error("record usage", "task_id", res.TaskID, "error", err)
		}
		s.metrics.TokensRecorded.Add(ctx, res.TokensUsed,
			metric.WithAttributes(attribute.String("agent_type", string(rec.AgentType))))
	}

	s.metrics.PhaseDuration.Record(ctx, ended.Sub(rec.StartedAt).Seconds(),
		metric.WithAttributes(attribute.String("phase", rec.Phase)))

	if res.Success {
		if err := s.audit.Record(ctx, event.TypePhaseCompleted, exec.ProjectID, res.TaskID, rec.AgentType, res); err != nil {
			return err
		}
		s.hub.BroadcastEvent(ctx, broadcast.EventPhaseCompleted, broadcast.PhaseEvent{
			ExecutionID: exec.ID,
			Phase:       rec.Phase,
			TaskID:      res.TaskID,
		})
	} else {
		if err := s.audit.Record(ctx, event.TypePhaseFailed, exec.ProjectID, res.TaskID, rec.AgentType, res); err != nil {
			return err
		}
		s.metrics.PhasesFailed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("phase", rec.Phase)))
	}

	return s.drive(ctx, exec)
}

/// HandleDecision reacts to terminal phase-retry approval requests: approve
// grants the failed phase a fresh attempt budget, reject or expiry fails the
// execution.
func (s *WorkflowEngine) HandleDecision(ctx context.Context, r *hitl.Request) {
	if r.RequestType != hitl.RequestTypePhaseRetry || r.WorkflowID == "" {
		return
	}

	exec, err := s.store.GetExecution(ctx, r.WorkflowID)
	if err != nil {
		slog.Error("load execution for retry decision", "execution_id", r.WorkflowID, "error", err)
		return
	}
	if exec.Status.IsTerminal() {
		return
	}

	idx := -1
	for i := len(exec.History) - 1; i >= 0; i-- {
		if exec.History[i].TaskID == r.TaskID && exec.History[i].Status == workflow.PhaseFailed {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	rec := exec.History[idx]

	switch r.Status {
	case hitl.StatusApproved:
		def, err := s.defs.Get(exec.DefinitionName)
		if err != nil {
			slog.Error("definition for retry decision", "execution_id", exec.ID, "error", err)
			return
		}
		p := def.PhaseByName(rec.Phase)
		if p == nil {
			return
		}
		// Approval grants a fresh attempt budget.
		if err := s.dispatchPhase(ctx, exec, def, p, rec.SplitPhase, rec.Optional, 1); err != nil {
			slog.Error("dispatch after retry approval", "execution_id", exec.ID, "error", err)
		}
		if err := s.store.UpdateExecution(ctx, exec); err != nil {
			slog.Error("persist after retry approval", "execution_id", exec.ID, "error", err)
		}
	case hitl.StatusRejected, hitl.StatusExpired:
		reason := fmt.Sprintf("retry of phase %q %s by %s", rec.Phase, r.Status, r.DecidedBy)
		if r.DecidedBy == "" {
			reason = fmt.Sprintf("retry of phase %q %s", rec.Phase, r.Status)
		}
		if err := s.failExecution(ctx, exec, reason); err != nil {
			slog.Error("fail execution after retry decision", "execution_id", exec.ID, "error", err)
		}
	}
}

// SubscribeResults consumes phase results from the queue and feeds them to
// HandleResult. Artifacts reported with the result are persisted first so
// the updated execution context can reference them.
func (s *WorkflowEngine) SubscribeResults(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectTaskResult, func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			slog.Error("invalid result payload", "error", err)
			return nil // drop: redelivery cannot fix a malformed message
		}
		var payload messagequeue.ResultPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			slog.Error("unmarshal result payload", "error", err)
			return nil
		}

		res := &workflow.PhaseResult{
			TaskID:     payload.TaskID,
			Phase:      payload.Phase,
			Success:    payload.Success,
			Output:     payload.Output,
			Error:      payload.Error,
			Retryable:  payload.Retryable,
			TokensUsed: payload.TokensUsed,
			CostUSD:    payload.CostUSD,
		}
		for _, d := range payload.Artifacts {
			a, err := s.artifacts.CreateFromDraft(ctx, payload.ProjectID, payload.TaskID, d)
			if err != nil {
				slog.Error("persist result artifact", "task_id", payload.TaskID, "error", err)
				continue
			}
			res.ArtifactIDs = append(res.ArtifactIDs, a.ID)
		}

		err := s.HandleResult(ctx, payload.ExecutionID, res)
		if errors.Is(err, workflow.ErrPhaseResultMismatch) || errors.Is(err, domain.ErrNotFound) {
			slog.Warn("unmatched result dropped", "task_id", payload.TaskID, "error", err)
			return nil
		}
		return err
	})
}

// drive advances the execution until it is waiting on outstanding work or
// terminal, then persists it.
func (s *WorkflowEngine) drive(ctx context.Context, exec *workflow.Execution) error {
	def, err := s.defs.Get(exec.DefinitionName)
	if err != nil {
		return s.failExecution(ctx, exec, err.Error())
	}

	for {
		act := workflow.NextAction(def, exec, s.cfg.MaxAttempts)
		switch act.Kind {
		case workflow.ActionWait:
			return s.store.UpdateExecution(ctx, exec)

		case workflow.ActionDispatch:
			if err := s.dispatchAction(ctx, exec, def, act); err != nil {
				return err
			}

		case workflow.ActionRetry:
			return s.scheduleRetry(ctx, exec, act.Phases[0])

		case workflow.ActionEscalate:
			return s.escalate(ctx, exec, def, act)

		case workflow.ActionComplete:
			return s.completeExecution(ctx, exec)

		case workflow.ActionFail:
			return s.failExecution(ctx, exec, act.Reason)
		}
	}
}

// dispatchAction starts every phase the derivation named. A branch dispatch
// keeps the split as the current phase; any other target becomes current.
func (s *WorkflowEngine) dispatchAction(ctx context.Context, exec *workflow.Execution, def *workflow.Definition, act workflow.Action) error {
	cur := def.PhaseByName(exec.CurrentPhase)

	// Moving past a settled split: close its visit record.
	if cur != nil && cur.Parallel != nil && len(act.Phases) == 1 && act.Phases[0] == cur.Parallel.Join {
		if idx := exec.LatestRecord(cur.Name); idx >= 0 && !exec.History[idx].Status.IsTerminal() {
			now := s.now()
			exec.History[idx].Status = workflow.PhaseCompleted
			exec.History[idx].EndedAt = &now
		}
	}

	for _, name := range act.Phases {
		p := def.PhaseByName(name)
		if p == nil {
			return s.failExecution(ctx, exec, fmt.Sprintf("phase %q not in definition %q", name, def.Name))
		}

		if p.Parallel != nil {
			exec.CurrentPhase = name
			exec.History = append(exec.History, workflow.PhaseRecord{
				Phase:     name,
				Status:    workflow.PhaseDispatched,
				Attempt:   1,
				StartedAt: s.now(),
			})
			continue
		}

		splitPhase := ""
		optional := false
		if cur != nil && cur.Parallel != nil {
			for _, b := range cur.Parallel.Branches {
				if b.Phase == name {
					splitPhase = cur.Name
					optional = b.Optional
					break
				}
			}
		}
		if splitPhase == "" {
			exec.CurrentPhase = name
		}

		if err := s.dispatchPhase(ctx, exec, def, p, splitPhase, optional, 1); err != nil {
			return err
		}
		if exec.Status != workflow.StatusRunning {
			// A gate denial paused the execution mid-dispatch.
			return nil
		}
	}
	return nil
}

// dispatchPhase admits one phase task through the coordinator and records
// the dispatch. An admission-gate denial pauses the execution instead of
/// failing it: the work resumes once the operator clears the gate.
func (s *WorkflowEngine) dispatchPhase(ctx context.Context, exec *workflow.Execution, def *workflow.Definition, p *workflow.Phase, splitPhase string, optional bool, attempt int) error {
	artifactIDs, err := s.artifacts.IDsForProject(ctx, exec.ProjectID)
	if err != nil {
		return err
	}

	ho := handoff.Message{
		FromAgent:          lastCompletedAgent(exec),
		ToAgent:            string(p.Agent),
		ContextArtifactIDs: artifactIDs,
		Instructions:       p.Instructions,
		ExpectedOutputs:    p.ExpectedOutputs,
	}
	if err := ho.Validate(); err != nil {
		return fmt.Errorf("%w: handoff for phase %q: %s", domain.ErrValidation, p.Name, err)
	}

	req := task.CreateRequest{
		ProjectID:          exec.ProjectID,
		WorkflowID:         exec.ID,
		Phase:              p.Name,
		SessionID:          exec.SessionID,
		AgentType:          p.Agent,
		Instructions:       ho.Instructions,
		ContextArtifactIDs: ho.ContextArtifactIDs,
		EstimatedTokens:    p.EstimatedTokens,
	}
	t, err := s.coordinator.AdmitForExecution(ctx, req, exec.ID, ho.ExpectedOutputs, attempt)
	if err != nil {
		if isGateDenial(err) {
			return s.pauseOnDenial(ctx, exec, p.Name, err)
		}
		if t == nil {
			return err
		}
		// Task was created but dispatch to the queue failed: record the
		// attempt as failed so the retry path takes over.
		now := s.now()
		exec.History = append(exec.History, workflow.PhaseRecord{
			Phase:      p.Name,
			SplitPhase: splitPhase,
			AgentType:  p.Agent,
			TaskID:     t.ID,
			Status:     workflow.PhaseFailed,
			Attempt:    attempt,
			Optional:   optional,
			Error:      err.Error(),
			StartedAt:  now,
			EndedAt:    &now,
		})
		return nil
	}

	exec.History = append(exec.History, workflow.PhaseRecord{
		Phase:      p.Name,
		SplitPhase: splitPhase,
		AgentType:  p.Agent,
		TaskID:     t.ID,
		Status:     workflow.PhaseDispatched,
		Attempt:    attempt,
		Optional:   optional,
		StartedAt:  s.now(),
	})

	if err := s.audit.Record(ctx, event.TypePhaseStarted, exec.ProjectID, t.ID, p.Agent, map[string]any{
		"execution_id": exec.ID,
		"phase":        p.Name,
		"attempt":      attempt,
	}); err != nil {
		return err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventPhaseStarted, broadcast.PhaseEvent{
		ExecutionID: exec.ID,
		Phase:       p.Name,
		TaskID:      t.ID,
		Attempt:     attempt,
	})
	s.metrics.PhasesDispatched.Add(ctx, 1,
		metric.WithAttributes(attribute.String("phase", p.Name)))
	s.watchTimeout(ctx, exec.ID, t.ID, p.Name)

	slog.Info("phase dispatched",
		"execution_id", exec.ID, "phase", p.Name, "task_id", t.ID, "attempt", attempt)
	return nil
}

// watchTimeout converts a phase that produced no result within the
// configured window into a retryable failure. The synthesized result goes
// through HandleResult, so a real result that already landed wins: the
// record is no longer dispatched and the timeout is a no-op.
func (s *WorkflowEngine) watchTimeout(ctx context.Context, executionID, taskID, phase string) {
	if s.cfg.PhaseTimeout <= 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(s.cfg.PhaseTimeout, func() {
		exec, err := s.store.GetExecution(bg, executionID)
		if err != nil {
			slog.Error("load execution for timeout check", "execution_id", executionID, "error", err)
			return
		}
		stillDispatched := false
		for i := len(exec.History) - 1; i >= 0; i-- {
			if exec.History[i].TaskID == taskID {
				stillDispatched = exec.History[i].Status == workflow.PhaseDispatched
				break
			}
		}
		if !stillDispatched {
			return
		}
		res := &workflow.PhaseResult{
			TaskID:    taskID,
			Phase:     phase,
			Success:   false,
			Error:     fmt.Sprintf("phase %q timed out after %s", phase, s.cfg.PhaseTimeout),
			Retryable: true,
		}
		if err := s.HandleResult(bg, executionID, res); err != nil {
			slog.Error("apply phase timeout", "execution_id", executionID, "phase", phase, "error", err)
		}
	})
}

// lastCompletedAgent names the agent that finished most recently, the one
// handing work over. Empty at the entry phase.
func lastCompletedAgent(exec *workflow.Execution) string {
	for i := len(exec.History) - 1; i >= 0; i-- {
		if exec.History[i].Status == workflow.PhaseCompleted {
			return string(exec.History[i].AgentType)
		}
	}
	return ""
}

func isGateDenial(err error) bool {
	var stopErr *stop.ActiveError
	var polErr *policy.ViolationError
	var budErr *budget.ExceededError
	return errors.As(err, &stopErr) || errors.As(err, &polErr) || errors.As(err, &budErr)
}

func (s *WorkflowEngine) pauseOnDenial(ctx context.Context, exec *workflow.Execution, phase string, cause error) error {
	exec.Status = workflow.StatusPaused
	exec.PauseReason = fmt.Sprintf("phase %q denied: %s", phase, cause)
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if err := s.audit.Record(ctx, event.TypeWorkflowPaused, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
		"reason":       exec.PauseReason,
	}); err != nil {
		return err
	}
	s.broadcastStatus(ctx, exec)
	slog.Warn("workflow paused on denial", "execution_id", exec.ID, "reason", exec.PauseReason)
	return nil
}

// scheduleRetry persists the execution and re-dispatches the failed phase
// after an exponential backoff: base delay doubled per prior failure.
func (s *WorkflowEngine) scheduleRetry(ctx context.Context, exec *workflow.Execution, phase string) error {
	idx := exec.LatestRecord(phase)
	if idx < 0 {
		return s.store.UpdateExecution(ctx, exec)
	}
	rec := exec.History[idx]
	nextAttempt := rec.Attempt + 1
	key := exec.ID + "/" + phase + "/" + strconv.Itoa(nextAttempt)

	s.retryMu.Lock()
	_, pending := s.retries[key]
	if !pending {
		s.retries[key] = struct{}{}
	}
	s.retryMu.Unlock()

	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	if pending {
		return nil
	}

	delay := s.cfg.RetryBaseDelay << (rec.Attempt - 1)
	slog.Info("phase retry scheduled",
		"execution_id", exec.ID, "phase", phase, "attempt", nextAttempt, "delay", delay)

	bg := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		defer func() {
			s.retryMu.Lock()
			delete(s.retries, key)
			s.retryMu.Unlock()
		}()
		s.runRetry(bg, exec.ID, phase, nextAttempt)
	})
	return nil
}

func (s *WorkflowEngine) runRetry(ctx context.Context, executionID, phase string, attempt int) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		slog.Error("load execution for retry", "execution_id", executionID, "error", err)
		return
	}
	if exec.Status != workflow.StatusRunning {
		return
	}
	idx := exec.LatestRecord(phase)
	if idx < 0 {
		return
	}
	rec := exec.History[idx]
	if rec.Status != workflow.PhaseFailed || rec.Attempt != attempt-1 {
		return // state moved on while the timer was pending
	}

	def, err := s.defs.Get(exec.DefinitionName)
	if err != nil {
		slog.Error("definition for retry", "execution_id", executionID, "error", err)
		return
	}
	p := def.PhaseByName(phase)
	if p == nil {
		return
	}

	if err := s.dispatchPhase(ctx, exec, def, p, rec.SplitPhase, rec.Optional, attempt); err != nil {
		slog.Error("retry dispatch", "execution_id", executionID, "phase", phase, "error", err)
		return
	}
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		slog.Error("persist after retry dispatch", "execution_id", executionID, "error", err)
	}
}

// escalate opens a phase-retry approval request once per failed phase; the
// execution then idles until a human decides.
func (s *WorkflowEngine) escalate(ctx context.Context, exec *workflow.Execution, def *workflow.Definition, act workflow.Action) error {
	phase := act.Phases[0]
	idx := exec.LatestRecord(phase)
	if idx < 0 {
		return s.store.UpdateExecution(ctx, exec)
	}
	rec := exec.History[idx]

	pending, err := s.store.PendingApprovalRequests(ctx, exec.ProjectID)
	if err != nil {
		return err
	}
	for _, r := range pending {
		if r.WorkflowID == exec.ID && r.RequestType == hitl.RequestTypePhaseRetry {
			return s.store.UpdateExecution(ctx, exec)
		}
	}

	var estimate float64
	if p := def.PhaseByName(phase); p != nil {
		estimate = float64(p.EstimatedTokens)
	}
	comment := fmt.Sprintf("phase %q failed %d times: %s", phase, rec.Attempt, act.Reason)
	if _, err := s.governor.CreateApprovalRequest(ctx, exec.ProjectID, rec.TaskID, exec.ID,
		rec.AgentType, hitl.RequestTypePhaseRetry, estimate, comment); err != nil {
		return err
	}

	slog.Warn("phase escalated to human",
		"execution_id", exec.ID, "phase", phase, "attempts", rec.Attempt)
	return s.store.UpdateExecution(ctx, exec)
}

func (s *WorkflowEngine) completeExecution(ctx context.Context, exec *workflow.Execution) error {
	exec.Status = workflow.StatusCompleted
	now := s.now()
	exec.CompletedAt = &now
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowCompleted, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
		"definition":   exec.DefinitionName,
	}); err != nil {
		return err
	}
	s.broadcastStatus(ctx, exec)
	slog.Info("workflow completed", "execution_id", exec.ID)
	return nil
}

func (s *WorkflowEngine) failExecution(ctx context.Context, exec *workflow.Execution, reason string) error {
	exec.Status = workflow.StatusFailed
	exec.FailureReason = reason
	now := s.now()
	exec.CompletedAt = &now
	if err := s.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, event.TypeWorkflowFailed, exec.ProjectID, "", "", map[string]any{
		"execution_id": exec.ID,
		"reason":       reason,
	}); err != nil {
		return err
	}
	s.broadcastStatus(ctx, exec)
	slog.Error("workflow failed", "execution_id", exec.ID, "reason", reason)
	return nil
}

func (s *WorkflowEngine) broadcastStatus(ctx context.Context, exec *workflow.Execution) {
	s.hub.BroadcastEvent(ctx, broadcast.EventWorkflowStatus, broadcast.WorkflowStatusEvent{
		ExecutionID:  exec.ID,
		ProjectID:    exec.ProjectID,
		Status:       string(exec.Status),
		CurrentPhase: exec.CurrentPhase,
		Reason:       exec.PauseReason,
	})
}
