package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/policy"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/port/cache"
	"github.com/launchflow/helmsman/internal/port/database"
)

// PolicyService evaluates phase-access policy. The project's current phase
// is cached briefly so admission checks don't hit the database on every
// task; the policy config itself is immutable after load.
type PolicyService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	config   policy.Config
}

// NewPolicyService creates a PolicyService with the given config.
func NewPolicyService(store database.Store, c cache.Cache, cacheTTL time.Duration, cfg policy.Config) (*PolicyService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("policy config: %w", err)
	}
	return &PolicyService{store: store, cache: c, cacheTTL: cacheTTL, config: cfg}, nil
}

// LoadConfig reads a policy config from a YAML file, falling back to the
// built-in rules when path is empty.
func LoadConfig(path string) (policy.Config, error) {
	if path == "" {
		return policy.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-provided path
	if err != nil {
		return policy.Config{}, fmt.Errorf("read policy config: %w", err)
	}
	var cfg policy.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return policy.Config{}, fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, nil
}

// Config returns the active policy rules.
func (s *PolicyService) Config() policy.Config {
	return s.config
}

// Evaluate checks whether the agent type may act in the given phase.
// Pure rule evaluation; callers resolve the phase first.
func (s *PolicyService) Evaluate(phase project.Phase, agentType agent.Type) policy.Evaluation {
	return s.config.Evaluate(phase, agentType)
}

// EvaluateProject resolves the project's current phase (through the cache)
// and evaluates the agent type against it.
func (s *PolicyService) EvaluateProject(ctx context.Context, projectID string, agentType agent.Type) (policy.Evaluation, error) {
	phase, _, err := s.ProjectState(ctx, projectID)
	if err != nil {
		return policy.Evaluation{}, err
	}
	return s.config.Evaluate(phase, agentType), nil
}

type projectState struct {
	Phase    project.Phase `json:"phase"`
	Archived bool          `json:"archived"`
}

// ProjectState returns the project's current phase and archived flag,
// serving from the cache when a fresh snapshot is present.
func (s *PolicyService) ProjectState(ctx context.Context, projectID string) (project.Phase, bool, error) {
	key := "project_state:" + projectID
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var st projectState
		if json.Unmarshal(data, &st) == nil {
			return st.Phase, st.Archived, nil
		}
	}

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", false, err
	}
	if data, err := json.Marshal(projectState{Phase: p.CurrentPhase, Archived: p.Archived}); err == nil {
		_ = s.cache.Set(ctx, key, data, s.cacheTTL)
	}
	return p.CurrentPhase, p.Archived, nil
}

// InvalidatePhase drops the cached snapshot after a project phase change
// or archival.
func (s *PolicyService) InvalidatePhase(ctx context.Context, projectID string) {
	_ = s.cache.Delete(ctx, "project_state:"+projectID)
}

// ViolationFromEvaluation builds the typed denial error from a denied
// evaluation.
func ViolationFromEvaluation(ev policy.Evaluation, agentType agent.Type) *policy.ViolationError {
	return &policy.ViolationError{
		CurrentPhase:  ev.CurrentPhase,
		AgentType:     agentType,
		AllowedAgents: ev.AllowedAgents,
		Message:       ev.Message,
	}
}
