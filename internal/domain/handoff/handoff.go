// Package handoff provides the structured message passed between workflow
// phases. A handoff carries the context and instructions one agent leaves
// for the next; it is immutable once created.
package handoff

import "errors"

// Message is the structured transfer from one phase's agent to the next.
type Message struct {
	FromAgent          string   `json:"from_agent"`
	ToAgent            string   `json:"to_agent"`
	ContextArtifactIDs []string `json:"context_artifact_ids,omitempty"`
	Instructions       string   `json:"instructions"`
	ExpectedOutputs    []string `json:"expected_outputs,omitempty"`
}

// Validate checks that a Message has all required fields.
func (m *Message) Validate() error {
	if m.ToAgent == "" {
		return errors.New("to_agent is required")
	}
	if m.Instructions == "" {
		return errors.New("instructions are required")
	}
	return nil
}
