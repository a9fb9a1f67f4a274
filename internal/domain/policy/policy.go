// Package policy defines the phase-access policy model: which agent types
// may act while a project is in a given lifecycle phase.
package policy

import (
	"fmt"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/project"
)

// Status is the outcome of a policy evaluation.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
)

// PhaseRule maps one lifecycle phase to its allowed agent types.
type PhaseRule struct {
	Phase         project.Phase `json:"phase" yaml:"phase"`
	AllowedAgents []agent.Type  `json:"allowed_agents" yaml:"allowed_agents"`
}

// Config is the full phase-access policy, loaded from configuration.
type Config struct {
	Rules []PhaseRule `json:"rules" yaml:"rules"`
}

// Validate checks the config for duplicate phases and unknown agent types.
func (c *Config) Validate() error {
	seen := make(map[project.Phase]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.Phase == "" {
			return fmt.Errorf("rule %d: phase is required", i)
		}
		if seen[r.Phase] {
			return fmt.Errorf("rule %d: duplicate phase %q", i, r.Phase)
		}
		seen[r.Phase] = true
		if len(r.AllowedAgents) == 0 {
			return fmt.Errorf("rule %d (%s): allowed_agents must not be empty", i, r.Phase)
		}
		for _, a := range r.AllowedAgents {
			if !agent.Known(a) {
				return fmt.Errorf("rule %d (%s): unknown agent type %q", i, r.Phase, a)
			}
		}
	}
	return nil
}

// AllowedAgents returns the agent types permitted in the given phase, or nil
// when the phase has no rule (deny-all).
func (c *Config) AllowedAgents(phase project.Phase) []agent.Type {
	for _, r := range c.Rules {
		if r.Phase == phase {
			return r.AllowedAgents
		}
	}
	return nil
}

// Evaluation is the result of evaluating an agent against a project's phase.
// Denied results always carry the full allowed-agents list so callers can
// present actionable guidance.
type Evaluation struct {
	Status        Status        `json:"status"`
	CurrentPhase  project.Phase `json:"current_phase"`
	AllowedAgents []agent.Type  `json:"allowed_agents"`
	Message       string        `json:"message,omitempty"`
}

// Evaluate is a pure function of the project phase and the policy config.
func (c *Config) Evaluate(phase project.Phase, agentType agent.Type) Evaluation {
	allowed := c.AllowedAgents(phase)
	for _, a := range allowed {
		if a == agentType {
			return Evaluation{
				Status:        StatusAllowed,
				CurrentPhase:  phase,
				AllowedAgents: allowed,
			}
		}
	}
	return Evaluation{
		Status:        StatusDenied,
		CurrentPhase:  phase,
		AllowedAgents: allowed,
		Message: fmt.Sprintf("agent %q may not act in phase %q; allowed: %v",
			agentType, phase, allowed),
	}
}

// ViolationError is returned when task admission is refused by phase policy.
// Recoverable: the caller must pick an allowed agent; never retried.
type ViolationError struct {
	CurrentPhase  project.Phase
	AgentType     agent.Type
	AllowedAgents []agent.Type
	Message       string
}

func (e *ViolationError) Error() string {
	return e.Message
}
