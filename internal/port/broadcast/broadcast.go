// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event type names pushed over the WebSocket hub.
const (
	EventPhaseStarted     = "phase_started"
	EventPhaseCompleted   = "phase_completed"
	EventWorkflowStatus   = "workflow_status"
	EventApprovalRequired = "approval_required"
	EventApprovalResolved = "approval_resolved"
	EventPolicyViolation  = "policy_violation"
	EventEmergencyStop    = "emergency_stop"
	EventBudgetDenied     = "budget_denied"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
