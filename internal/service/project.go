package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/port/database"
)

// ProjectService manages project lifecycle. Projects are archived, never
// deleted, so their audit trail stays resolvable.
type ProjectService struct {
	store  database.Store
	policy *PolicyService
}

// NewProjectService creates a new ProjectService.
func NewProjectService(store database.Store, policySvc *PolicyService) *ProjectService {
	return &ProjectService{store: store, policy: policySvc}
}

// List returns projects, optionally including archived ones.
func (s *ProjectService) List(ctx context.Context, includeArchived bool) ([]project.Project, error) {
	return s.store.ListProjects(ctx, includeArchived)
}

// Get returns one project by ID.
func (s *ProjectService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// Create creates a new project in the discovery phase.
func (s *ProjectService) Create(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	p, err := s.store.CreateProject(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("project created", "project_id", p.ID, "name", p.Name)
	return p, nil
}

// AdvancePhase moves the project to a new lifecycle phase with optimistic
// locking; a stale version yields ErrConflict.
func (s *ProjectService) AdvancePhase(ctx context.Context, id string, phase project.Phase, version int) (*project.Project, error) {
	known := false
	for _, ph := range project.Phases() {
		if ph == phase {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: unknown phase %q", domain.ErrValidation, phase)
	}

	p, err := s.store.UpdateProjectPhase(ctx, id, phase, version)
	if err != nil {
		return nil, err
	}
	s.policy.InvalidatePhase(ctx, id)
	slog.Info("project phase advanced", "project_id", id, "phase", phase)
	return p, nil
}

// Archive marks the project archived. Archived projects admit no tasks.
func (s *ProjectService) Archive(ctx context.Context, id string) error {
	if err := s.store.ArchiveProject(ctx, id); err != nil {
		return err
	}
	s.policy.InvalidatePhase(ctx, id)
	slog.Info("project archived", "project_id", id)
	return nil
}
