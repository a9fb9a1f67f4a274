package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/budget"
)

const budgetCols = `project_id, agent_type, daily_limit, session_limit, used_today,
	used_session, cost_usd, window_started_at, updated_at`

func scanBudget(row scannable) (budget.Budget, error) {
	var b budget.Budget
	err := row.Scan(&b.ProjectID, &b.AgentType, &b.DailyLimit, &b.SessionLimit,
		&b.UsedToday, &b.UsedSession, &b.CostUSD, &b.WindowStartedAt, &b.UpdatedAt)
	return b, err
}

func (s *Store) GetBudget(ctx context.Context, projectID string, agentType agent.Type) (*budget.Budget, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+budgetCols+` FROM agent_budgets WHERE project_id = $1 AND agent_type = $2`,
		projectID, agentType)

	b, err := scanBudget(row)
	if err != nil {
		return nil, notFoundWrap(err, "get budget %s/%s", projectID, agentType)
	}
	return &b, nil
}

// EnsureBudget creates the budget row with the given limits if absent, then
// returns the current row.
func (s *Store) EnsureBudget(ctx context.Context, projectID string, agentType agent.Type, daily, session int64) (*budget.Budget, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_budgets (project_id, agent_type, daily_limit, session_limit)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project_id, agent_type) DO NOTHING`,
		projectID, agentType, daily, session)
	if err != nil {
		return nil, fmt.Errorf("ensure budget %s/%s: %w", projectID, agentType, err)
	}
	return s.GetBudget(ctx, projectID, agentType)
}

// ResetBudgetWindow zeroes the daily counter and restarts the window.
func (s *Store) ResetBudgetWindow(ctx context.Context, projectID string, agentType agent.Type, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_budgets
		 SET used_today = 0, window_started_at = $3, updated_at = now()
		 WHERE project_id = $1 AND agent_type = $2`,
		projectID, agentType, startedAt)
	return execExpectOne(tag, err, "reset budget window %s/%s", projectID, agentType)
}

// RecordUsage adds token usage exactly once per task. A ledger row keyed by
// task_id guards the increment: the insert and the counter update run in one
// transaction, and a second call for the same task inserts nothing and
// therefore adds nothing.
func (s *Store) RecordUsage(ctx context.Context, projectID string, agentType agent.Type, taskID string, tokens int64, costUSD float64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("record usage begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO budget_ledger (task_id, project_id, agent_type, tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (task_id) DO NOTHING`,
		taskID, projectID, agentType, tokens, costUSD)
	if err != nil {
		return false, fmt.Errorf("record usage ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE agent_budgets
		 SET used_today = used_today + $3, used_session = used_session + $3,
		     cost_usd = cost_usd + $4, updated_at = now()
		 WHERE project_id = $1 AND agent_type = $2`,
		projectID, agentType, tokens, costUSD)
	if err != nil {
		return false, fmt.Errorf("record usage counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("record usage commit: %w", err)
	}
	return true, nil
}
