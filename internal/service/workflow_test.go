package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/workflow"
)

func startDelivery(t *testing.T, e *env, projectID string) *workflow.Execution {
	t.Helper()
	exec, err := e.engine.Start(context.Background(), StartRequest{
		ProjectID:      projectID,
		DefinitionName: "software_delivery",
		SessionID:      "s1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return exec
}

// raiseLimits lifts the HITL counter so multi-phase walks are not parked.
func raiseLimits(t *testing.T, e *env, projectID string) {
	t.Helper()
	if _, err := e.governor.UpdateSettings(context.Background(), projectID, "s1",
		hitl.UpdateRequest{NewLimit: intPtr(100)}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
}

func completeTask(t *testing.T, e *env, call dispatchCall, output map[string]any) {
	t.Helper()
	err := e.engine.HandleResult(context.Background(), call.ExecutionID, &workflow.PhaseResult{
		TaskID:     call.TaskID,
		Phase:      call.Phase,
		Success:    true,
		Output:     output,
		TokensUsed: 100,
		CostUSD:    0.01,
	})
	if err != nil {
		t.Fatalf("HandleResult(%s): %v", call.Phase, err)
	}
}

func failTask(t *testing.T, e *env, call dispatchCall, retryable bool) {
	t.Helper()
	err := e.engine.HandleResult(context.Background(), call.ExecutionID, &workflow.PhaseResult{
		TaskID:    call.TaskID,
		Phase:     call.Phase,
		Success:   false,
		Error:     "agent crashed",
		Retryable: retryable,
	})
	if err != nil {
		t.Fatalf("HandleResult(%s): %v", call.Phase, err)
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStartDispatchesEntryPhase(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.project(t)

	exec := startDelivery(t, e, p.ID)
	if exec.Status != workflow.StatusRunning || exec.CurrentPhase != "discovery" {
		t.Fatalf("got status=%s phase=%s, want running/discovery", exec.Status, exec.CurrentPhase)
	}

	calls := e.exec.calls()
	if len(calls) != 1 || calls[0].Phase != "discovery" {
		t.Fatalf("dispatches %+v, want one discovery dispatch", calls)
	}

	// One active execution per project.
	_, err := e.engine.Start(context.Background(), StartRequest{
		ProjectID:      p.ID,
		DefinitionName: "software_delivery",
		SessionID:      "s1",
	})
	if !errors.Is(err, workflow.ErrActiveExecution) {
		t.Fatalf("second start: got %v, want ErrActiveExecution", err)
	}
}

func TestWorkflowRunsToCompletion(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	exec := startDelivery(t, e, p.ID)

	next := func(phase string) dispatchCall {
		t.Helper()
		call, ok := e.exec.lastCall()
		if !ok || call.Phase != phase {
			t.Fatalf("last dispatch %+v, want phase %s", call, phase)
		}
		return call
	}

	completeTask(t, e, next("discovery"), map[string]any{"requirements": "doc-1"})
	completeTask(t, e, next("design"), map[string]any{"design_doc": "doc-2"})
	completeTask(t, e, next("build"), nil)

	// The verify split dispatches both branches concurrently.
	calls := e.exec.calls()
	branches := map[string]dispatchCall{}
	for _, c := range calls[len(calls)-2:] {
		branches[c.Phase] = c
	}
	if _, ok := branches["test"]; !ok {
		t.Fatalf("branch dispatches %+v, want test", branches)
	}
	if _, ok := branches["review"]; !ok {
		t.Fatalf("branch dispatches %+v, want review", branches)
	}

	completeTask(t, e, branches["test"], nil)
	completeTask(t, e, branches["review"], nil)

	// First gate verdict loops back to build.
	completeTask(t, e, next("gate"), map[string]any{"tests_passed": false})
	completeTask(t, e, next("build"), nil)

	calls = e.exec.calls()
	rerun := map[string]dispatchCall{}
	for _, c := range calls[len(calls)-2:] {
		rerun[c.Phase] = c
	}
	completeTask(t, e, rerun["test"], nil)
	completeTask(t, e, rerun["review"], nil)

	completeTask(t, e, next("gate"), map[string]any{"tests_passed": true})
	completeTask(t, e, next("launch"), nil)

	got, err := e.engine.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("got status=%s, want completed", got.Status)
	}
	if len(e.audit.ofType(event.TypeWorkflowCompleted)) != 1 {
		t.Fatal("expected one workflow-completed audit event")
	}

	// Usage was recorded for every completed phase task.
	b, err := e.budget.Get(ctx, p.ID, "analyst")
	if err != nil {
		t.Fatalf("Get budget: %v", err)
	}
	if b.UsedToday == 0 {
		t.Fatal("expected recorded analyst usage")
	}
}

func TestPhaseTimeoutCountsAsRetryableFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.project(t)
	raiseLimits(t, e, p.ID)
	e.engine.cfg.PhaseTimeout = 15 * time.Millisecond

	exec := startDelivery(t, e, p.ID)

	// No result arrives; the watchdog fails the phase and backoff
	// re-dispatches it.
	waitFor(t, "timeout redispatch", func() bool {
		c, ok := e.exec.lastCall()
		return ok && c.Attempt == 2
	})

	got, err := e.engine.Get(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var timedOut bool
	for _, rec := range got.History {
		if rec.Status == workflow.PhaseFailed && strings.Contains(rec.Error, "timed out") {
			timedOut = true
		}
	}
	if !timedOut {
		t.Fatalf("history %+v, want a timed-out failed record", got.History)
	}

	// A prompt result on the retry attempt still advances the workflow.
	call, _ := e.exec.lastCall()
	completeTask(t, e, call, map[string]any{"requirements": "doc"})
	waitFor(t, "advance to design", func() bool {
		c, ok := e.exec.lastCall()
		return ok && c.Phase == "design"
	})
}

func TestRetryBackoffThenEscalate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	exec := startDelivery(t, e, p.ID)

	for attempt := 1; attempt <= 2; attempt++ {
		call, _ := e.exec.lastCall()
		if call.Attempt != attempt {
			t.Fatalf("dispatch attempt %d, want %d", call.Attempt, attempt)
		}
		failTask(t, e, call, true)
		want := attempt + 1
		waitFor(t, "retry dispatch", func() bool {
			c, ok := e.exec.lastCall()
			return ok && c.Attempt == want
		})
	}

	// Third failure exhausts the attempt budget: no more retries, a
	// phase-retry approval request instead.
	call, _ := e.exec.lastCall()
	failTask(t, e, call, true)

	pending, err := e.governor.PendingRequests(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(pending) != 1 || pending[0].RequestType != hitl.RequestTypePhaseRetry {
		t.Fatalf("pending %+v, want one phase-retry request", pending)
	}
	if pending[0].EstimatedCost == 0 {
		t.Fatal("escalation must carry the phase token estimate")
	}
	if len(e.exec.calls()) != 3 {
		t.Fatalf("%d dispatches, want exactly 3 attempts", len(e.exec.calls()))
	}

	// Approval grants a fresh attempt budget.
	if _, err := e.governor.Respond(ctx, pending[0].ID, hitl.DecisionApprove, "alex"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	c, ok := e.exec.lastCall()
	if !ok || c.Phase != "discovery" || c.Attempt != 1 {
		t.Fatalf("post-approval dispatch %+v, want discovery attempt 1", c)
	}

	completeTask(t, e, c, map[string]any{"requirements": "doc"})
	got, err := e.engine.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentPhase != "design" {
		t.Fatalf("phase %s after recovery, want design", got.CurrentPhase)
	}
}

func TestRetryRejectionFailsWorkflow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	exec := startDelivery(t, e, p.ID)

	// Non-retryable failures skip the backoff ladder entirely.
	call, _ := e.exec.lastCall()
	failTask(t, e, call, false)

	if len(e.exec.calls()) != 1 {
		t.Fatalf("%d dispatches, want 1: non-retryable failures must not retry", len(e.exec.calls()))
	}
	pending, err := e.governor.PendingRequests(ctx, p.ID)
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending %+v, want one escalation", pending)
	}

	if _, err := e.governor.Respond(ctx, pending[0].ID, hitl.DecisionReject, "alex"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	got, err := e.engine.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusFailed {
		t.Fatalf("status %s after rejection, want failed", got.Status)
	}
	if len(e.audit.ofType(event.TypeWorkflowFailed)) != 1 {
		t.Fatal("expected one workflow-failed audit event")
	}
}

func TestPauseHoldsDispatchUntilResume(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	exec := startDelivery(t, e, p.ID)
	if _, err := e.engine.Pause(ctx, exec.ID, "operator break"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// The in-flight result is recorded but nothing new is dispatched.
	call, _ := e.exec.lastCall()
	completeTask(t, e, call, map[string]any{"requirements": "doc"})
	if len(e.exec.calls()) != 1 {
		t.Fatal("paused execution must not dispatch")
	}

	got, err := e.engine.Resume(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Status != workflow.StatusRunning {
		t.Fatalf("status %s after resume, want running", got.Status)
	}
	c, ok := e.exec.lastCall()
	if !ok || c.Phase != "design" {
		t.Fatalf("post-resume dispatch %+v, want design", c)
	}

	// Resume only applies to paused executions.
	if _, err := e.engine.Resume(ctx, exec.ID); !errors.Is(err, workflow.ErrNotPaused) {
		t.Fatalf("got %v, want ErrNotPaused", err)
	}
}

func TestCancelAbandonsInflightTasks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	exec := startDelivery(t, e, p.ID)
	call, _ := e.exec.lastCall()

	got, err := e.engine.Cancel(ctx, exec.ID, "wrong project")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != workflow.StatusCancelled {
		t.Fatalf("status %s, want cancelled", got.Status)
	}
	if len(e.exec.cancels) != 1 || e.exec.cancels[0] != call.TaskID {
		t.Fatalf("cancels %v, want [%s]", e.exec.cancels, call.TaskID)
	}

	// A straggling result for the cancelled execution is ignored.
	if err := e.engine.HandleResult(ctx, exec.ID, &workflow.PhaseResult{
		TaskID: call.TaskID, Phase: call.Phase, Success: true,
	}); err != nil {
		t.Fatalf("HandleResult after cancel: %v", err)
	}
	if len(e.exec.calls()) != 1 {
		t.Fatal("cancelled execution must not dispatch")
	}

	if _, err := e.engine.Cancel(ctx, exec.ID, "again"); !errors.Is(err, workflow.ErrExecutionTerminal) {
		t.Fatalf("second cancel: got %v, want ErrExecutionTerminal", err)
	}
}

func TestResumeAllRedispatchesAfterRestart(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	// Simulate an execution persisted by a process that died before
	// dispatching the entry phase.
	exec := &workflow.Execution{
		ID:             "exec-restart",
		ProjectID:      p.ID,
		DefinitionName: "software_delivery",
		SessionID:      "s1",
		CurrentPhase:   "discovery",
		Status:         workflow.StatusRunning,
		Context:        map[string]any{},
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	if err := e.engine.ResumeAll(ctx); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	c, ok := e.exec.lastCall()
	if !ok || c.Phase != "discovery" || c.ExecutionID != exec.ID {
		t.Fatalf("post-restart dispatch %+v, want discovery for %s", c, exec.ID)
	}

	// A second pass dispatches nothing: the outstanding record is visible.
	if err := e.engine.ResumeAll(ctx); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if len(e.exec.calls()) != 1 {
		t.Fatal("resume must not double-dispatch outstanding phases")
	}
}

func TestGateDenialPausesWorkflow(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	raiseLimits(t, e, p.ID)

	if _, err := e.stops.Trigger(ctx, stop.TriggerRequest{
		Reason:      "incident",
		TriggeredBy: "oncall",
	}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	exec := startDelivery(t, e, p.ID)
	got, err := e.engine.Get(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusPaused || got.PauseReason == "" {
		t.Fatalf("got status=%s reason=%q, want paused with reason", got.Status, got.PauseReason)
	}
	if len(e.exec.calls()) != 0 {
		t.Fatal("denied phase must not be dispatched")
	}
}
