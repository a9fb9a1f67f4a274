// Package natsexec implements the executor port by publishing dispatch and
// cancel messages onto the message queue. Agent workers consume them and
// report results on the result subject.
package natsexec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/port/messagequeue"
)

// Executor hands tasks to agent workers over the message queue.
type Executor struct {
	queue messagequeue.Queue
}

// New creates an Executor publishing on the given queue.
func New(queue messagequeue.Queue) *Executor {
	return &Executor{queue: queue}
}

// Dispatch publishes the task on workflow.task.dispatch.{agent}. Workers
// subscribe per agent type, so a tester never receives coder work.
func (e *Executor) Dispatch(ctx context.Context, t *task.Task, executionID string, expectedOutputs []string, attempt int) error {
	payload := messagequeue.DispatchPayload{
		TaskID:             t.ID,
		ExecutionID:        executionID,
		ProjectID:          t.ProjectID,
		Phase:              t.Phase,
		AgentType:          string(t.AgentType),
		Instructions:       t.Instructions,
		ContextArtifactIDs: t.ContextArtifactIDs,
		ExpectedOutputs:    expectedOutputs,
		Attempt:            attempt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}

	subject := messagequeue.SubjectTaskDispatch + "." + string(t.AgentType)
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("dispatch task %s: %w", t.ID, err)
	}
	return nil
}

// Cancel publishes a best-effort cancel for an in-flight task.
func (e *Executor) Cancel(ctx context.Context, taskID, executionID, reason string) error {
	data, err := json.Marshal(messagequeue.CancelPayload{
		TaskID:      taskID,
		ExecutionID: executionID,
		Reason:      reason,
	})
	if err != nil {
		return fmt.Errorf("marshal cancel payload: %w", err)
	}
	if err := e.queue.Publish(ctx, messagequeue.SubjectTaskCancel, data); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	return nil
}
