// Package executor defines the port through which admitted phase tasks are
// handed to agent workers.
package executor

import (
	"context"

	"github.com/launchflow/helmsman/internal/domain/task"
)

// Executor dispatches admitted tasks to agent workers and supports
// best-effort cancellation of in-flight work.
type Executor interface {
	// Dispatch hands one admitted task to a worker. Returns once the task
	// is accepted for execution, not once it completes; results arrive
	// asynchronously on the result subject.
	Dispatch(ctx context.Context, t *task.Task, executionID string, expectedOutputs []string, attempt int) error

	// Cancel asks the worker running the task to abandon it. Best effort:
	// the worker may already have finished.
	Cancel(ctx context.Context, taskID, executionID, reason string) error
}
