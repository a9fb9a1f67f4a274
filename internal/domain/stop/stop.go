// Package stop defines the emergency-stop kill switch entity.
// An active stop short-circuits all task admission within its scope.
package stop

import (
	"fmt"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// Stop is an emergency-stop record. A nil/empty ProjectID means global
// (all projects); an empty AgentType means all agent types in scope.
type Stop struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id,omitempty"`
	AgentType     agent.Type `json:"agent_type,omitempty"`
	Reason        string     `json:"reason"`
	TriggeredBy   string     `json:"triggered_by"`
	Active        bool       `json:"active"`
	DeactivatedBy string     `json:"deactivated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Scope renders the stop's scope for audit and broadcast payloads.
func (s *Stop) Scope() string {
	switch {
	case s.ProjectID == "" && s.AgentType == "":
		return "global"
	case s.AgentType == "":
		return "project:" + s.ProjectID
	case s.ProjectID == "":
		return "agent:" + string(s.AgentType)
	default:
		return "project:" + s.ProjectID + "/agent:" + string(s.AgentType)
	}
}

// TriggerRequest holds the fields needed to trigger a stop.
type TriggerRequest struct {
	ProjectID   string     `json:"project_id,omitempty"`
	AgentType   agent.Type `json:"agent_type,omitempty"`
	Reason      string     `json:"reason"`
	TriggeredBy string     `json:"triggered_by"`
}

// Validate checks the trigger request for required fields.
func (r *TriggerRequest) Validate() error {
	if r.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	if r.TriggeredBy == "" {
		return fmt.Errorf("triggered_by is required")
	}
	if r.AgentType != "" && !agent.Known(r.AgentType) {
		return fmt.Errorf("unknown agent_type %q", r.AgentType)
	}
	return nil
}

// ActiveError is returned when task admission or phase dispatch is refused
// because an emergency stop matches the requested scope. Fatal until the
// stop is explicitly deactivated; never retried.
type ActiveError struct {
	Scope  string
	Reason string
}

func (e *ActiveError) Error() string {
	return fmt.Sprintf("emergency stop active (%s): %s", e.Scope, e.Reason)
}
