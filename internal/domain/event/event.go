// Package event defines the append-only audit event model. The audit trail
// is the sole source of truth for reconstructing what happened.
package event

import (
	"encoding/json"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// Type identifies the kind of governance or workflow event.
type Type string

const (
	TypeTaskAdmitted        Type = "task.admitted"
	TypeTaskDeniedPolicy    Type = "task.denied.policy"
	TypeTaskDeniedBudget    Type = "task.denied.budget"
	TypeTaskDeniedStop      Type = "task.denied.emergency_stop"
	TypeTaskBlockedApproval Type = "task.blocked.approval"
	TypeTaskCompleted       Type = "task.completed"
	TypeTaskFailed          Type = "task.failed"

	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalResolved  Type = "approval.resolved"
	TypeApprovalExpired   Type = "approval.expired"
	TypeSettingsUpdated   Type = "hitl.settings.updated"

	TypeWorkflowStarted   Type = "workflow.started"
	TypeWorkflowPaused    Type = "workflow.paused"
	TypeWorkflowResumed   Type = "workflow.resumed"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeWorkflowCancelled Type = "workflow.cancelled"
	TypeWorkflowFailed    Type = "workflow.failed"
	TypePhaseStarted      Type = "phase.started"
	TypePhaseCompleted    Type = "phase.completed"
	TypePhaseFailed       Type = "phase.failed"

	TypeStopTriggered   Type = "emergency_stop.triggered"
	TypeStopDeactivated Type = "emergency_stop.deactivated"

	TypeBudgetRecorded Type = "budget.usage_recorded"
)

// AuditEvent is one append-only audit trail entry. Never updated or deleted.
type AuditEvent struct {
	ID        string          `json:"id"`
	Type      Type            `json:"event_type"`
	ProjectID string          `json:"project_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	AgentType agent.Type      `json:"agent_type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter narrows an audit query. Zero fields are ignored.
type Filter struct {
	ProjectID string     `json:"project_id,omitempty"`
	TaskID    string     `json:"task_id,omitempty"`
	Type      Type       `json:"event_type,omitempty"`
	After     *time.Time `json:"after,omitempty"`
	Before    *time.Time `json:"before,omitempty"`
}

// Page is one cursor-paginated page of audit events, ordered by created_at
// ascending.
type Page struct {
	Events  []AuditEvent `json:"events"`
	Cursor  string       `json:"cursor,omitempty"`
	HasMore bool         `json:"has_more"`
	Total   int          `json:"total"`
}
