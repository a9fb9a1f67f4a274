package workflow

import (
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the execution can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// PhaseStatus tracks one dispatched phase attempt.
type PhaseStatus string

const (
	PhaseDispatched PhaseStatus = "dispatched"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// IsTerminal reports whether the phase record is settled.
func (s PhaseStatus) IsTerminal() bool {
	return s == PhaseCompleted || s == PhaseFailed || s == PhaseSkipped
}

// PhaseRecord is the persisted history of one phase dispatch. Parallel
// branch dispatches record the split phase they belong to in SplitPhase.
type PhaseRecord struct {
	Phase      string      `json:"phase"`
	SplitPhase string      `json:"split_phase,omitempty"`
	AgentType  agent.Type  `json:"agent_type,omitempty"`
	TaskID     string      `json:"task_id,omitempty"`
	Status     PhaseStatus `json:"status"`
	Attempt    int         `json:"attempt"`
	Optional   bool        `json:"optional,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
}

// Execution is the persisted state of one workflow run. History and Context
// are the complete record: NextAction derives what to do from them alone,
// which is what makes resume after a restart exact.
type Execution struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	DefinitionName string         `json:"definition_name"`
	SessionID      string         `json:"session_id"`
	CurrentPhase   string         `json:"current_phase"`
	Status         Status         `json:"status"`
	PauseReason    string         `json:"pause_reason,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	History        []PhaseRecord  `json:"history"`
	Context        map[string]any `json:"context"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// LatestRecord returns the index of the most recent history record for the
// named phase, or -1.
func (e *Execution) LatestRecord(phase string) int {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Phase == phase {
			return i
		}
	}
	return -1
}

// SetVar merges one output variable into the execution context.
func (e *Execution) SetVar(key string, val any) {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = val
}

// PhaseResult is the outcome an agent execution reports back for one
// dispatched phase.
type PhaseResult struct {
	TaskID      string         `json:"task_id"`
	Phase       string         `json:"phase"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retryable   bool           `json:"retryable"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	TokensUsed  int64          `json:"tokens_used"`
	CostUSD     float64        `json:"cost_usd"`
}
