package broadcast

// Typed payloads for the event types above. Clients switch on the envelope
// Type field.

// PhaseEvent accompanies phase_started and phase_completed.
type PhaseEvent struct {
	ExecutionID string `json:"execution_id"`
	Phase       string `json:"phase"`
	TaskID      string `json:"task_id,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
}

// WorkflowStatusEvent accompanies workflow_status on every lifecycle change.
type WorkflowStatusEvent struct {
	ExecutionID  string `json:"execution_id"`
	ProjectID    string `json:"project_id"`
	Status       string `json:"status"`
	CurrentPhase string `json:"current_phase,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// DenialEvent accompanies policy_violation, budget_denied, and
// emergency_stop admission refusals.
type DenialEvent struct {
	ProjectID string `json:"project_id"`
	AgentType string `json:"agent_type"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}
