package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/launchflow/helmsman/internal/domain/artifact"
)

const artifactCols = `id, project_id, task_id, type, content, metadata, created_at`

func scanArtifact(row scannable) (artifact.Artifact, error) {
	var (
		a      artifact.Artifact
		taskID *string
		meta   []byte
	)
	err := row.Scan(&a.ID, &a.ProjectID, &taskID, &a.Type, &a.Content, &meta, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	if taskID != nil {
		a.TaskID = *taskID
	}
	if err := json.Unmarshal(meta, &a.Metadata); err != nil {
		return a, fmt.Errorf("unmarshal artifact metadata: %w", err)
	}
	return a, nil
}

// CreateArtifact persists a write-once artifact. There is no update path.
func (s *Store) CreateArtifact(ctx context.Context, a *artifact.Artifact) error {
	if a.Metadata == nil {
		a.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal artifact metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO context_artifacts (id, project_id, task_id, type, content, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		a.ID, a.ProjectID, nullIfEmpty(a.TaskID), a.Type, a.Content, meta)

	if err := row.Scan(&a.CreatedAt); err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM context_artifacts WHERE id = $1`, id)

	a, err := scanArtifact(row)
	if err != nil {
		return nil, notFoundWrap(err, "get artifact %s", id)
	}
	return &a, nil
}

func (s *Store) ListArtifacts(ctx context.Context, projectID string) ([]artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactCols+` FROM context_artifacts
		 WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
