// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Helmsman.
const (
	// SubjectTaskDispatch carries admitted phase tasks to agent workers,
	// suffixed with the agent type: workflow.task.dispatch.{agent}.
	SubjectTaskDispatch = "workflow.task.dispatch"
	// SubjectTaskResult carries phase results back from workers.
	SubjectTaskResult = "workflow.task.result"
	// SubjectTaskCancel asks workers to abandon a running task.
	SubjectTaskCancel = "workflow.task.cancel"
)
