package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/port/database"
)

// BudgetService enforces per-(project, agent type) token budgets and
// records actual usage exactly once per task.
type BudgetService struct {
	store database.Store
	audit *AuditService
	cfg   config.Budget
	now   func() time.Time // for testing
}

// NewBudgetService creates a new BudgetService.
func NewBudgetService(store database.Store, audit *AuditService, cfg config.Budget) *BudgetService {
	return &BudgetService{store: store, audit: audit, cfg: cfg, now: time.Now}
}

// resetWindow returns the configured reset policy.
func (s *BudgetService) resetWindow() budget.ResetWindow {
	if s.cfg.ResetWindow == string(budget.ResetRolling24) {
		return budget.ResetRolling24
	}
	return budget.ResetDailyUTC
}

// Check admits or denies estimated token usage against the budget. The
// budget row is created with configured defaults on first use, and the
// daily counter is reset lazily when the window has rolled over. A zero
// limit means unlimited.
func (s *BudgetService) Check(ctx context.Context, projectID string, agentType agent.Type, estimatedTokens int64) (*budget.Decision, error) {
	b, err := s.store.EnsureBudget(ctx, projectID, agentType,
		s.cfg.DefaultDailyTokens, s.cfg.DefaultSessionTokens)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if b.WindowElapsed(s.resetWindow(), now) {
		if err := s.store.ResetBudgetWindow(ctx, projectID, agentType, now); err != nil {
			return nil, err
		}
		b.UsedToday = 0
		b.WindowStartedAt = now
	}

	if b.DailyLimit > 0 && b.UsedToday+estimatedTokens > b.DailyLimit {
		return &budget.Decision{
			Approved:  false,
			LimitType: budget.LimitDaily,
			Limit:     b.DailyLimit,
			Used:      b.UsedToday,
		}, nil
	}
	if b.SessionLimit > 0 && b.UsedSession+estimatedTokens > b.SessionLimit {
		return &budget.Decision{
			Approved:  false,
			LimitType: budget.LimitSession,
			Limit:     b.SessionLimit,
			Used:      b.UsedSession,
		}, nil
	}
	return &budget.Decision{Approved: true}, nil
}

// ExceededFromDecision builds the typed denial error from a denied decision.
func ExceededFromDecision(d *budget.Decision, projectID string, agentType agent.Type, requested int64) *budget.ExceededError {
	return &budget.ExceededError{
		ProjectID: projectID,
		AgentType: agentType,
		LimitType: d.LimitType,
		Limit:     d.Limit,
		Used:      d.Used,
		Requested: requested,
	}
}

// RecordUsage adds actual usage for a completed task. Idempotent per task:
// repeated result deliveries add nothing and are not re-audited.
func (s *BudgetService) RecordUsage(ctx context.Context, projectID string, agentType agent.Type, taskID string, tokens int64, costUSD float64) error {
	recorded, err := s.store.RecordUsage(ctx, projectID, agentType, taskID, tokens, costUSD)
	if err != nil {
		return err
	}
	if !recorded {
		slog.Debug("budget usage already recorded", "task_id", taskID)
		return nil
	}

	return s.audit.Record(ctx, event.TypeBudgetRecorded, projectID, taskID, agentType, map[string]any{
		"tokens":   tokens,
		"cost_usd": costUSD,
	})
}

// Get returns the budget for one (project, agent type) pair, created with
// defaults if absent.
func (s *BudgetService) Get(ctx context.Context, projectID string, agentType agent.Type) (*budget.Budget, error) {
	return s.store.EnsureBudget(ctx, projectID, agentType,
		s.cfg.DefaultDailyTokens, s.cfg.DefaultSessionTokens)
}
