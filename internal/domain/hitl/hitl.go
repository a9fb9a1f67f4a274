// Package hitl defines the human-in-the-loop governance domain model:
// per-session auto-approval settings and explicit approval requests.
package hitl

import (
	"errors"
	"fmt"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// Default governance values applied when a (project, session) pair has no
// stored settings yet.
const (
	DefaultActionLimit  = 10
	DefaultExpiryWindow = 30 * time.Minute
)

// Settings is the per-(project, session) auto-approval configuration.
// Invariant: 0 <= ActionsRemaining <= ActionLimit.
type Settings struct {
	ProjectID        string    `json:"project_id"`
	SessionID        string    `json:"session_id"`
	Enabled          bool      `json:"hitl_enabled"`
	ActionLimit      int       `json:"action_limit"`
	ActionsRemaining int       `json:"actions_remaining"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Reason explains a CheckResult decision.
type Reason string

const (
	ReasonDisabled      Reason = "disabled"
	ReasonAvailable     Reason = "available"
	ReasonExhausted     Reason = "exhausted"
	ReasonEmergencyStop Reason = "emergency_stop"
)

// CheckResult is the outcome of a check_action_allowed call.
type CheckResult struct {
	Allowed        bool     `json:"allowed"`
	Reason         Reason   `json:"reason"`
	Remaining      int      `json:"remaining"`
	Total          int      `json:"total"`
	PendingRequest *Request `json:"pending_request,omitempty"`
	// Reconfigure is populated when the counter is exhausted so a
	// human-facing layer can render actionable guidance.
	Reconfigure *ReconfigurePrompt `json:"reconfigure,omitempty"`
}

// ReconfigurePrompt describes the current limit and status for the caller to
// present to a human and collect a new configuration.
type ReconfigurePrompt struct {
	ProjectID   string `json:"project_id"`
	SessionID   string `json:"session_id"`
	ActionLimit int    `json:"action_limit"`
	Remaining   int    `json:"remaining"`
	Message     string `json:"message"`
}

// UpdateRequest holds an operator's settings change. Nil fields are left
// unchanged; a new limit always resets the remaining counter to the new
// limit (fresh budget, not additive).
type UpdateRequest struct {
	NewLimit  *int  `json:"new_limit,omitempty"`
	NewStatus *bool `json:"new_status,omitempty"`
}

// Validate checks the update request.
func (r *UpdateRequest) Validate() error {
	if r.NewLimit == nil && r.NewStatus == nil {
		return errors.New("at least one of new_limit or new_status is required")
	}
	if r.NewLimit != nil && *r.NewLimit < 0 {
		return errors.New("new_limit must be >= 0")
	}
	return nil
}

// RequestStatus is the lifecycle state of an explicit approval request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// IsTerminal reports whether the request admits no further transitions.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// RequestType categorizes what the approval is for.
type RequestType string

const (
	RequestTypeAction     RequestType = "action"
	RequestTypePhaseRetry RequestType = "phase_retry"
)

// Request is an explicit approval request awaiting a human decision.
// Terminal once approved/rejected/expired; immutable thereafter.
type Request struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	TaskID        string        `json:"task_id,omitempty"`
	WorkflowID    string        `json:"workflow_id,omitempty"`
	AgentType     agent.Type    `json:"agent_type"`
	RequestType   RequestType   `json:"request_type"`
	Status        RequestStatus `json:"status"`
	EstimatedCost float64       `json:"estimated_cost"`
	Comment       string        `json:"comment,omitempty"`
	DecidedBy     string        `json:"decided_by,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Decision is a human response to an approval request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ExhaustedError is returned when the auto-approval counter is spent and a
// human must reconfigure before further actions proceed.
type ExhaustedError struct {
	ProjectID   string
	SessionID   string
	ActionLimit int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("approval budget exhausted for project %s session %s (limit %d)",
		e.ProjectID, e.SessionID, e.ActionLimit)
}

// RequestExpiredError is returned when responding to a request past its
// expires_at. Terminal for that request; a new request may be created.
type RequestExpiredError struct {
	RequestID string
	ExpiresAt time.Time
}

func (e *RequestExpiredError) Error() string {
	return fmt.Sprintf("approval request %s expired at %s", e.RequestID, e.ExpiresAt.Format(time.RFC3339))
}
