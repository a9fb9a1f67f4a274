package policy

import (
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/project"
)

// DefaultConfig returns the built-in phase policy for the standard
// software-delivery lifecycle. The trailing rules cover the verification
// phases of the built-in workflow definition, which are evaluated under
// their own names. Custom configuration replaces the whole set.
func DefaultConfig() Config {
	return Config{
		Rules: []PhaseRule{
			{Phase: project.PhaseDiscovery, AllowedAgents: []agent.Type{agent.TypeAnalyst}},
			{Phase: project.PhaseDesign, AllowedAgents: []agent.Type{agent.TypeArchitect, agent.TypeAnalyst}},
			{Phase: project.PhaseBuild, AllowedAgents: []agent.Type{agent.TypeCoder}},
			{Phase: project.PhaseValidate, AllowedAgents: []agent.Type{agent.TypeTester, agent.TypeCoder}},
			{Phase: project.PhaseLaunch, AllowedAgents: []agent.Type{agent.TypeDeployer}},
			{Phase: "test", AllowedAgents: []agent.Type{agent.TypeTester}},
			{Phase: "review", AllowedAgents: []agent.Type{agent.TypeAnalyst}},
			{Phase: "gate", AllowedAgents: []agent.Type{agent.TypeTester}},
		},
	}
}
