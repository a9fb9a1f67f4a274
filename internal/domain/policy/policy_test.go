package policy

import (
	"testing"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/project"
)

func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestEvaluateAllowed(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	ev := cfg.Evaluate(project.PhaseBuild, agent.TypeCoder)
	if ev.Status != StatusAllowed {
		t.Fatalf("expected allowed, got %s (%s)", ev.Status, ev.Message)
	}
	if ev.CurrentPhase != project.PhaseBuild {
		t.Errorf("expected current_phase build, got %s", ev.CurrentPhase)
	}
}

func TestEvaluateDeniedIncludesAllowedAgents(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	ev := cfg.Evaluate(project.PhaseBuild, agent.TypeTester)
	if ev.Status != StatusDenied {
		t.Fatalf("expected denied, got %s", ev.Status)
	}
	if len(ev.AllowedAgents) != 1 || ev.AllowedAgents[0] != agent.TypeCoder {
		t.Errorf("expected allowed_agents [coder], got %v", ev.AllowedAgents)
	}
	if ev.Message == "" {
		t.Error("denied evaluation must carry a message")
	}
}

func TestEvaluateUnknownPhaseDeniesAll(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	ev := cfg.Evaluate(project.Phase("mystery"), agent.TypeCoder)
	if ev.Status != StatusDenied {
		t.Fatalf("expected denied for unconfigured phase, got %s", ev.Status)
	}
	if len(ev.AllowedAgents) != 0 {
		t.Errorf("expected empty allowed_agents, got %v", ev.AllowedAgents)
	}
}

func TestValidateRejectsDuplicatePhase(t *testing.T) {
	t.Parallel()

	cfg := Config{Rules: []PhaseRule{
		{Phase: project.PhaseBuild, AllowedAgents: []agent.Type{agent.TypeCoder}},
		{Phase: project.PhaseBuild, AllowedAgents: []agent.Type{agent.TypeTester}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate phase error")
	}
}

func TestValidateRejectsUnknownAgent(t *testing.T) {
	t.Parallel()

	cfg := Config{Rules: []PhaseRule{
		{Phase: project.PhaseBuild, AllowedAgents: []agent.Type{"wizard"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown agent error")
	}
}
