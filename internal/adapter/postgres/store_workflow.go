package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/workflow"
)

const executionCols = `id, project_id, definition_name, session_id, current_phase, status,
	pause_reason, failure_reason, history, context, version, created_at, updated_at, completed_at`

func scanExecution(row scannable) (workflow.Execution, error) {
	var (
		e       workflow.Execution
		history []byte
		vars    []byte
	)
	err := row.Scan(&e.ID, &e.ProjectID, &e.DefinitionName, &e.SessionID, &e.CurrentPhase,
		&e.Status, &e.PauseReason, &e.FailureReason, &history, &vars, &e.Version,
		&e.CreatedAt, &e.UpdatedAt, &e.CompletedAt)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(history, &e.History); err != nil {
		return e, fmt.Errorf("unmarshal history: %w", err)
	}
	if err := json.Unmarshal(vars, &e.Context); err != nil {
		return e, fmt.Errorf("unmarshal context: %w", err)
	}
	return e, nil
}

func marshalExecution(exec *workflow.Execution) (history, vars []byte, err error) {
	if exec.History == nil {
		exec.History = []workflow.PhaseRecord{}
	}
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	history, err = json.Marshal(exec.History)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal history: %w", err)
	}
	vars, err = json.Marshal(exec.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal context: %w", err)
	}
	return history, vars, nil
}

// CreateExecution inserts a new execution. A partial unique index enforces
// one active execution per project; violations map to ErrActiveExecution.
func (s *Store) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	history, vars, err := marshalExecution(exec)
	if err != nil {
		return err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO workflow_executions (id, project_id, definition_name, session_id, current_phase, status, history, context)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING version, created_at, updated_at`,
		exec.ID, exec.ProjectID, exec.DefinitionName, exec.SessionID,
		exec.CurrentPhase, exec.Status, history, vars)

	if err := row.Scan(&exec.Version, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create execution for project %s: %w", exec.ProjectID, workflow.ErrActiveExecution)
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionCols+` FROM workflow_executions WHERE id = $1`, id)

	e, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution %s", id)
	}
	return &e, nil
}

// ActiveExecutionForProject returns the running or paused execution for the
// project, or domain.ErrNotFound.
func (s *Store) ActiveExecutionForProject(ctx context.Context, projectID string) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionCols+` FROM workflow_executions
		 WHERE project_id = $1 AND status IN ('running', 'paused')`, projectID)

	e, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "active execution for project %s", projectID)
	}
	return &e, nil
}

// ListActiveExecutions returns every running or paused execution, used to
// resume in-flight workflows at startup.
func (s *Store) ListActiveExecutions(ctx context.Context) ([]workflow.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionCols+` FROM workflow_executions
		 WHERE status IN ('running', 'paused') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active executions: %w", err)
	}
	defer rows.Close()

	var execs []workflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// UpdateExecution persists the full execution state with optimistic locking
// on version. The caller's copy gets the incremented version on success.
func (s *Store) UpdateExecution(ctx context.Context, exec *workflow.Execution) error {
	history, vars, err := marshalExecution(exec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE workflow_executions
		 SET current_phase = $2, status = $3, pause_reason = $4, failure_reason = $5,
		     history = $6, context = $7, completed_at = $8,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $9`,
		exec.ID, exec.CurrentPhase, exec.Status, exec.PauseReason, exec.FailureReason,
		history, vars, exec.CompletedAt, exec.Version)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update execution %s: %w", exec.ID, domain.ErrConflict)
	}
	exec.Version++
	return nil
}
