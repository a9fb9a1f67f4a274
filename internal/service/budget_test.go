package service

import (
	"context"
	"testing"
	"time"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/event"
)

func TestBudgetCheckWithinLimits(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	p := e.project(t)

	d, err := e.budget.Check(context.Background(), p.ID, agent.TypeCoder, 1000)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Approved {
		t.Fatalf("denied within limits: %+v", d)
	}
}

func TestBudgetCheckDeniesDailyLimit(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)

	// Spend close to the daily limit.
	if _, err := e.budget.Check(ctx, p.ID, agent.TypeCoder, 0); err != nil {
		t.Fatalf("Check: %v", err)
	}
	used := e.cfg.Budget.DefaultDailyTokens - 100
	if err := e.budget.RecordUsage(ctx, p.ID, agent.TypeCoder, "t-1", used, 1.0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	d, err := e.budget.Check(ctx, p.ID, agent.TypeCoder, 500)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Approved || d.LimitType != budget.LimitDaily {
		t.Fatalf("got %+v, want daily denial", d)
	}

	// A different agent type has its own budget.
	d, err = e.budget.Check(ctx, p.ID, agent.TypeTester, 500)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Approved {
		t.Fatalf("tester budget should be independent, got %+v", d)
	}
}

func TestBudgetRecordUsageExactlyOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)

	if _, err := e.budget.Check(ctx, p.ID, agent.TypeCoder, 0); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Same task delivered twice (queue redelivery): counted once.
	for i := 0; i < 2; i++ {
		if err := e.budget.RecordUsage(ctx, p.ID, agent.TypeCoder, "t-1", 2000, 0.25); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	b, err := e.budget.Get(ctx, p.ID, agent.TypeCoder)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.UsedToday != 2000 || b.UsedSession != 2000 {
		t.Fatalf("used today=%d session=%d, want 2000 each", b.UsedToday, b.UsedSession)
	}
	if len(e.audit.ofType(event.TypeBudgetRecorded)) != 1 {
		t.Fatal("expected one budget-recorded audit event")
	}
}

func TestBudgetDailyWindowResets(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)

	// Keep the session limit out of the way; this test is about the window.
	e.budget.cfg.DefaultSessionTokens = 10 * e.cfg.Budget.DefaultDailyTokens

	if _, err := e.budget.Check(ctx, p.ID, agent.TypeCoder, 0); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := e.budget.RecordUsage(ctx, p.ID, agent.TypeCoder, "t-1", e.cfg.Budget.DefaultDailyTokens, 1.0); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	d, err := e.budget.Check(ctx, p.ID, agent.TypeCoder, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Approved {
		t.Fatal("expected denial at the daily limit")
	}

	// Next UTC day: the daily counter resets, the session counter does not.
	e.budget.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }

	d, err = e.budget.Check(ctx, p.ID, agent.TypeCoder, 1000)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Approved {
		t.Fatalf("expected approval after window reset, got %+v", d)
	}

	b, err := e.budget.Get(ctx, p.ID, agent.TypeCoder)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.UsedToday != 0 {
		t.Fatalf("daily usage %d after reset, want 0", b.UsedToday)
	}
	if b.UsedSession != e.cfg.Budget.DefaultDailyTokens {
		t.Fatalf("session usage %d, want %d preserved", b.UsedSession, e.cfg.Budget.DefaultDailyTokens)
	}
}
