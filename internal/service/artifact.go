package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/artifact"
	"github.com/launchflow/helmsman/internal/port/database"
	"github.com/launchflow/helmsman/internal/port/messagequeue"
)

// ArtifactService persists write-once context artifacts. Later tasks receive
// artifact IDs, never copies of the content.
type ArtifactService struct {
	store database.Store
}

// NewArtifactService creates a new ArtifactService.
func NewArtifactService(store database.Store) *ArtifactService {
	return &ArtifactService{store: store}
}

// Create persists one artifact produced by a task.
func (s *ArtifactService) Create(ctx context.Context, projectID, taskID string, d artifact.Draft) (*artifact.Artifact, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	a := &artifact.Artifact{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		TaskID:    taskID,
		Type:      d.Type,
		Content:   d.Content,
		Metadata:  d.Metadata,
	}
	if err := s.store.CreateArtifact(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateFromDraft persists an artifact reported on the result subject.
func (s *ArtifactService) CreateFromDraft(ctx context.Context, projectID, taskID string, d messagequeue.ArtifactDraft) (*artifact.Artifact, error) {
	return s.Create(ctx, projectID, taskID, artifact.Draft{
		Type:     artifact.Type(d.Type),
		Content:  d.Content,
		Metadata: d.Metadata,
	})
}

// Get returns one artifact by ID.
func (s *ArtifactService) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	return s.store.GetArtifact(ctx, id)
}

// List returns a project's artifacts, newest first.
func (s *ArtifactService) List(ctx context.Context, projectID string) ([]artifact.Artifact, error) {
	return s.store.ListArtifacts(ctx, projectID)
}

// IDsForProject returns the IDs of a project's artifacts, for dispatching as
// task context.
func (s *ArtifactService) IDsForProject(ctx context.Context, projectID string) ([]string, error) {
	arts, err := s.store.ListArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(arts))
	for _, a := range arts {
		ids = append(ids, a.ID)
	}
	return ids, nil
}
