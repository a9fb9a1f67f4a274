package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

const projectCols = `id, name, description, current_phase, archived, version, created_at, updated_at`

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CurrentPhase, &p.Archived,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProjects(ctx context.Context, includeArchived bool) ([]project.Project, error) {
	query := `SELECT ` + projectCols + ` FROM projects`
	if !includeArchived {
		query += ` WHERE NOT archived`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description)
		 VALUES ($1, $2)
		 RETURNING `+projectCols, req.Name, req.Description)

	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

// UpdateProjectPhase advances the project's lifecycle phase with optimistic
// locking on version.
func (s *Store) UpdateProjectPhase(ctx context.Context, id string, phase project.Phase, version int) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE projects
		 SET current_phase = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $3 AND NOT archived
		 RETURNING `+projectCols, id, phase, version)

	p, err := scanProject(row)
	if err != nil {
		return nil, conflictWrap(err, "update project %s phase", id)
	}
	return &p, nil
}

func (s *Store) ArchiveProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET archived = TRUE, updated_at = now() WHERE id = $1 AND NOT archived`, id)
	return execExpectOne(tag, err, "archive project %s", id)
}

// --- Tasks ---

const taskCols = `id, project_id, workflow_id, phase, agent_type, status, instructions,
	context_artifact_ids, approval_request_id, output, error, tokens_used, cost_usd,
	version, created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t          task.Task
		workflowID *string
		approvalID *string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &workflowID, &t.Phase, &t.AgentType, &t.Status,
		&t.Instructions, &t.ContextArtifactIDs, &approvalID, &t.Output, &t.Error,
		&t.TokensUsed, &t.CostUSD, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if workflowID != nil {
		t.WorkflowID = *workflowID
	}
	if approvalID != nil {
		t.ApprovalRequestID = *approvalID
	}
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, project_id, workflow_id, phase, agent_type, status, instructions, context_artifact_ids, approval_request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING version, created_at, updated_at`,
		t.ID, t.ProjectID, nullIfEmpty(t.WorkflowID), t.Phase, t.AgentType, t.Status,
		t.Instructions, pgTextArray(t.ContextArtifactIDs), nullIfEmpty(t.ApprovalRequestID))

	if err := row.Scan(&t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, status)
	return execExpectOne(tag, err, "update task %s status", id)
}

// UpdateTaskResult records the terminal outcome of a task. Terminal tasks
// are never updated again.
func (s *Store) UpdateTaskResult(ctx context.Context, id string, status task.Status, output, errMsg string, tokensUsed int64, costUSD float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, output = $3, error = $4, tokens_used = $5, cost_usd = $6,
		     version = version + 1, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, status, output, errMsg, tokensUsed, costUSD)
	return execExpectOne(tag, err, "update task %s result", id)
}

func (s *Store) AttachApprovalRequest(ctx context.Context, taskID, requestID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET approval_request_id = $2, version = version + 1, updated_at = now()
		 WHERE id = $1`, taskID, requestID)
	return execExpectOne(tag, err, "attach approval request to task %s", taskID)
}

// conflictWrap maps pgx.ErrNoRows from an optimistic-lock UPDATE...RETURNING
// to domain.ErrConflict.
func conflictWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isNoRows(err) {
		return fmt.Errorf("%s: %w", msg, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
