package messagequeue

// DispatchPayload is the schema for workflow.task.dispatch.{agent} messages.
type DispatchPayload struct {
	TaskID             string   `json:"task_id"`
	ExecutionID        string   `json:"execution_id"`
	ProjectID          string   `json:"project_id"`
	Phase              string   `json:"phase"`
	AgentType          string   `json:"agent_type"`
	Instructions       string   `json:"instructions"`
	ContextArtifactIDs []string `json:"context_artifact_ids"`
	ExpectedOutputs    []string `json:"expected_outputs"`
	Attempt            int      `json:"attempt"`
}

// ResultPayload is the schema for workflow.task.result messages.
type ResultPayload struct {
	TaskID      string         `json:"task_id"`
	ExecutionID string         `json:"execution_id"`
	ProjectID   string         `json:"project_id"`
	Phase       string         `json:"phase"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retryable   bool           `json:"retryable"`
	Artifacts   []ArtifactDraft `json:"artifacts,omitempty"`
	TokensUsed  int64          `json:"tokens_used"`
	CostUSD     float64        `json:"cost_usd"`
}

// ArtifactDraft is a context artifact produced alongside a phase result.
type ArtifactDraft struct {
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CancelPayload is the schema for workflow.task.cancel messages.
type CancelPayload struct {
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}
