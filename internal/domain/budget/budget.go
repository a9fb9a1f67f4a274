// Package budget defines per-(project, agent type) token budgets checked
// before every task admission.
package budget

import (
	"fmt"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
)

// LimitType names which configured limit a denial refers to.
type LimitType string

const (
	LimitDaily   LimitType = "daily"
	LimitSession LimitType = "session"
)

// ResetWindow selects how usage counters reset. The source material is
// inconsistent on calendar vs rolling resets, so it is a configuration
// parameter rather than a fixed rule.
type ResetWindow string

const (
	ResetDailyUTC  ResetWindow = "daily_utc"
	ResetRolling24 ResetWindow = "rolling_24h"
)

// Budget tracks token usage for one (project, agent type) pair.
type Budget struct {
	ProjectID       string     `json:"project_id"`
	AgentType       agent.Type `json:"agent_type"`
	DailyLimit      int64      `json:"daily_limit"`
	SessionLimit    int64      `json:"session_limit"`
	UsedToday       int64      `json:"used_today"`
	UsedSession     int64      `json:"used_session"`
	CostUSD         float64    `json:"cost_usd"`
	WindowStartedAt time.Time  `json:"window_started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Decision is the outcome of a budget check.
type Decision struct {
	Approved  bool      `json:"approved"`
	LimitType LimitType `json:"limit_type,omitempty"`
	Limit     int64     `json:"limit,omitempty"`
	Used      int64     `json:"used,omitempty"`
}

// WindowElapsed reports whether the budget's usage window has rolled over
// under the given reset policy, as of now.
func (b *Budget) WindowElapsed(policy ResetWindow, now time.Time) bool {
	switch policy {
	case ResetRolling24:
		return now.Sub(b.WindowStartedAt) >= 24*time.Hour
	default: // daily_utc
		y1, m1, d1 := b.WindowStartedAt.UTC().Date()
		y2, m2, d2 := now.UTC().Date()
		return y1 != y2 || m1 != m2 || d1 != d2
	}
}

// ExceededError is returned when admitting a task would exceed a budget
// limit. Recoverable: requires a limit increase or a window reset, never a
// retry.
type ExceededError struct {
	ProjectID string
	AgentType agent.Type
	LimitType LimitType
	Limit     int64
	Used      int64
	Requested int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for project %s agent %s: %s limit %d (used %d, requested %d)",
		e.ProjectID, e.AgentType, e.LimitType, e.Limit, e.Used, e.Requested)
}
