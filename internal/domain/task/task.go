// Package task defines the Task domain entity: one unit of agent work.
package task

import (
	"errors"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending            Status = "pending"
	StatusWorking            Status = "working"
	StatusWaitingForApproval Status = "waiting_for_approval"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
// A task is immutable once completed or failed, except for audit metadata.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of agent work admitted by the coordinator.
type Task struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	WorkflowID         string     `json:"workflow_id,omitempty"`
	Phase              string     `json:"phase,omitempty"`
	AgentType          agent.Type `json:"agent_type"`
	Status             Status     `json:"status"`
	Instructions       string     `json:"instructions"`
	ContextArtifactIDs []string   `json:"context_artifact_ids,omitempty"`
	ApprovalRequestID  string     `json:"approval_request_id,omitempty"`
	Output             string     `json:"output,omitempty"`
	Error              string     `json:"error,omitempty"`
	TokensUsed         int64      `json:"tokens_used"`
	CostUSD            float64    `json:"cost_usd"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to admit a new task.
type CreateRequest struct {
	ProjectID          string     `json:"project_id"`
	WorkflowID         string     `json:"workflow_id,omitempty"`
	Phase              string     `json:"phase,omitempty"`
	SessionID          string     `json:"session_id"`
	AgentType          agent.Type `json:"agent_type"`
	Instructions       string     `json:"instructions"`
	ContextArtifactIDs []string   `json:"context_artifact_ids,omitempty"`
	EstimatedTokens    int64      `json:"estimated_tokens,omitempty"`
}

// Validate checks the create request for required fields.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if r.AgentType == "" {
		return errors.New("agent_type is required")
	}
	if !agent.Known(r.AgentType) {
		return errors.New("unknown agent_type " + string(r.AgentType))
	}
	if r.Instructions == "" {
		return errors.New("instructions are required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	return nil
}
