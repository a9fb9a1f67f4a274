package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/hitl"
)

// --- Settings ---

const settingsCols = `project_id, session_id, enabled, action_limit, actions_remaining, updated_at`

func scanSettings(row scannable) (hitl.Settings, error) {
	var st hitl.Settings
	err := row.Scan(&st.ProjectID, &st.SessionID, &st.Enabled, &st.ActionLimit,
		&st.ActionsRemaining, &st.UpdatedAt)
	return st, err
}

// EnsureSettings creates default settings for the (project, session) pair if
// absent, then returns the current row. Idempotent under concurrency: the
// insert is ON CONFLICT DO NOTHING, so exactly one row ever exists.
func (s *Store) EnsureSettings(ctx context.Context, projectID, sessionID string, limit int) (*hitl.Settings, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hitl_settings (project_id, session_id, action_limit, actions_remaining)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (project_id, session_id) DO NOTHING`,
		projectID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("ensure settings %s/%s: %w", projectID, sessionID, err)
	}
	return s.GetSettings(ctx, projectID, sessionID)
}

func (s *Store) GetSettings(ctx context.Context, projectID, sessionID string) (*hitl.Settings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settingsCols+` FROM hitl_settings WHERE project_id = $1 AND session_id = $2`,
		projectID, sessionID)

	st, err := scanSettings(row)
	if err != nil {
		return nil, notFoundWrap(err, "get settings %s/%s", projectID, sessionID)
	}
	return &st, nil
}

// UpdateSettings applies an operator's settings change in one statement.
// A new limit resets the remaining counter to the new limit.
func (s *Store) UpdateSettings(ctx context.Context, projectID, sessionID string, req hitl.UpdateRequest) (*hitl.Settings, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE hitl_settings
		 SET enabled = COALESCE($3, enabled),
		     action_limit = COALESCE($4, action_limit),
		     actions_remaining = COALESCE($4, actions_remaining),
		     updated_at = now()
		 WHERE project_id = $1 AND session_id = $2
		 RETURNING `+settingsCols,
		projectID, sessionID, req.NewStatus, req.NewLimit)

	st, err := scanSettings(row)
	if err != nil {
		return nil, notFoundWrap(err, "update settings %s/%s", projectID, sessionID)
	}
	return &st, nil
}

// ConsumeAction decrements the remaining-actions counter with a single
// conditional UPDATE, so concurrent callers settle on the database row lock:
// exactly actions_remaining of them succeed, the rest see ok=false.
func (s *Store) ConsumeAction(ctx context.Context, projectID, sessionID string) (int, bool, error) {
	var remaining int
	err := s.pool.QueryRow(ctx,
		`UPDATE hitl_settings
		 SET actions_remaining = actions_remaining - 1, updated_at = now()
		 WHERE project_id = $1 AND session_id = $2 AND enabled AND actions_remaining > 0
		 RETURNING actions_remaining`,
		projectID, sessionID).Scan(&remaining)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("consume action %s/%s: %w", projectID, sessionID, err)
	}
	return remaining, true, nil
}

// --- Approval requests ---

const requestCols = `id, project_id, task_id, workflow_id, agent_type, request_type, status,
	estimated_cost, comment, decided_by, expires_at, responded_at, created_at`

func scanRequest(row scannable) (hitl.Request, error) {
	var (
		r          hitl.Request
		taskID     *string
		workflowID *string
	)
	err := row.Scan(&r.ID, &r.ProjectID, &taskID, &workflowID, &r.AgentType, &r.RequestType,
		&r.Status, &r.EstimatedCost, &r.Comment, &r.DecidedBy, &r.ExpiresAt,
		&r.RespondedAt, &r.CreatedAt)
	if taskID != nil {
		r.TaskID = *taskID
	}
	if workflowID != nil {
		r.WorkflowID = *workflowID
	}
	return r, err
}

func (s *Store) CreateApprovalRequest(ctx context.Context, r *hitl.Request) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO hitl_requests (id, project_id, task_id, workflow_id, agent_type, request_type, status, estimated_cost, comment, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		r.ID, r.ProjectID, nullIfEmpty(r.TaskID), nullIfEmpty(r.WorkflowID), r.AgentType,
		r.RequestType, r.Status, r.EstimatedCost, r.Comment, r.ExpiresAt)

	if err := row.Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

func (s *Store) GetApprovalRequest(ctx context.Context, id string) (*hitl.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM hitl_requests WHERE id = $1`, id)

	r, err := scanRequest(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval request %s", id)
	}
	return &r, nil
}

func (s *Store) PendingApprovalRequests(ctx context.Context, projectID string) ([]hitl.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestCols+` FROM hitl_requests
		 WHERE project_id = $1 AND status = 'pending' ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("pending approval requests: %w", err)
	}
	defer rows.Close()

	var reqs []hitl.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// ResolveApprovalRequest transitions a pending request to a terminal status.
// The WHERE clause makes resolution first-write-wins: a request already
// decided or expired yields domain.ErrConflict.
func (s *Store) ResolveApprovalRequest(ctx context.Context, id string, status hitl.RequestStatus, decidedBy string) (*hitl.Request, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE hitl_requests
		 SET status = $2, decided_by = $3, responded_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+requestCols, id, status, decidedBy)

	r, err := scanRequest(row)
	if err != nil {
		if isNoRows(err) {
			// Distinguish missing from already-resolved.
			if _, getErr := s.GetApprovalRequest(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("resolve approval request %s: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("resolve approval request %s: %w", id, err)
	}
	return &r, nil
}

// ExpireApprovalRequests marks pending requests past their deadline expired
// and returns them for audit and notification.
func (s *Store) ExpireApprovalRequests(ctx context.Context, now time.Time) ([]hitl.Request, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE hitl_requests
		 SET status = 'expired', responded_at = $1
		 WHERE status = 'pending' AND expires_at <= $1
		 RETURNING `+requestCols, now)
	if err != nil {
		return nil, fmt.Errorf("expire approval requests: %w", err)
	}
	defer rows.Close()

	var reqs []hitl.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
