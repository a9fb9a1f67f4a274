package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/launchflow/helmsman/internal/adapter/otel"
	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/artifact"
	"github.com/launchflow/helmsman/internal/domain/budget"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/domain/policy"
	"github.com/launchflow/helmsman/internal/domain/project"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/domain/workflow"
	"github.com/launchflow/helmsman/internal/resilience"
)

// fakeStore is an in-memory database.Store preserving the adapter's
// concurrency contracts: conditional counter decrements, insert-if-absent,
// optimistic execution updates, and an exactly-once usage ledger.
type fakeStore struct {
	mu sync.Mutex

	projects  map[string]*project.Project
	tasks     map[string]*task.Task
	execs     map[string]*workflow.Execution
	artifacts map[string]*artifact.Artifact
	settings  map[string]*hitl.Settings
	requests  map[string]*hitl.Request
	budgets   map[string]*budget.Budget
	ledger    map[string]bool
	stops     map[string]*stop.Stop
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  make(map[string]*project.Project),
		tasks:     make(map[string]*task.Task),
		execs:     make(map[string]*workflow.Execution),
		artifacts: make(map[string]*artifact.Artifact),
		settings:  make(map[string]*hitl.Settings),
		requests:  make(map[string]*hitl.Request),
		budgets:   make(map[string]*budget.Budget),
		ledger:    make(map[string]bool),
		stops:     make(map[string]*stop.Stop),
	}
}

func settingsKey(projectID, sessionID string) string { return projectID + "/" + sessionID }
func budgetKey(projectID string, at agent.Type) string {
	return projectID + "/" + string(at)
}

// --- Projects ---

func (f *fakeStore) ListProjects(_ context.Context, includeArchived bool) ([]project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.Project
	for _, p := range f.projects {
		if p.Archived && !includeArchived {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &project.Project{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		CurrentPhase: project.PhaseDiscovery,
		Version:      1,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.projects[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpdateProjectPhase(_ context.Context, id string, phase project.Phase, version int) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	if p.Version != version {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrConflict)
	}
	p.CurrentPhase = phase
	p.Version++
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ArchiveProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	p.Archived = true
	return nil
}

// --- Tasks ---

func (f *fakeStore) ListTasks(_ context.Context, projectID string) ([]task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []task.Task
	for _, t := range f.tasks {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateTask(_ context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Version = 1
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: %w", id, domain.ErrConflict)
	}
	t.Status = status
	t.Version++
	return nil
}

func (f *fakeStore) UpdateTaskResult(_ context.Context, id string, status task.Status, output, errMsg string, tokensUsed int64, costUSD float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: %w", id, domain.ErrConflict)
	}
	t.Status = status
	t.Output = output
	t.Error = errMsg
	t.TokensUsed = tokensUsed
	t.CostUSD = costUSD
	t.Version++
	return nil
}

func (f *fakeStore) AttachApprovalRequest(_ context.Context, taskID, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	t.ApprovalRequestID = requestID
	return nil
}

// --- Workflow executions ---

func copyExecution(e *workflow.Execution) *workflow.Execution {
	cp := *e
	cp.History = append([]workflow.PhaseRecord(nil), e.History...)
	cp.Context = make(map[string]any, len(e.Context))
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	return &cp
}

func (f *fakeStore) CreateExecution(_ context.Context, exec *workflow.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.ProjectID == exec.ProjectID && !e.Status.IsTerminal() {
			return fmt.Errorf("project %s: %w", exec.ProjectID, workflow.ErrActiveExecution)
		}
	}
	exec.Version = 1
	exec.CreatedAt = time.Now()
	exec.UpdatedAt = exec.CreatedAt
	f.execs[exec.ID] = copyExecution(exec)
	return nil
}

func (f *fakeStore) GetExecution(_ context.Context, id string) (*workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return copyExecution(e), nil
}

func (f *fakeStore) ActiveExecutionForProject(_ context.Context, projectID string) (*workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.execs {
		if e.ProjectID == projectID && !e.Status.IsTerminal() {
			return copyExecution(e), nil
		}
	}
	return nil, fmt.Errorf("active execution for %s: %w", projectID, domain.ErrNotFound)
}

func (f *fakeStore) ListActiveExecutions(_ context.Context) ([]workflow.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []workflow.Execution
	for _, e := range f.execs {
		if !e.Status.IsTerminal() {
			out = append(out, *copyExecution(e))
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateExecution(_ context.Context, exec *workflow.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.execs[exec.ID]
	if !ok {
		return fmt.Errorf("execution %s: %w", exec.ID, domain.ErrNotFound)
	}
	if stored.Version != exec.Version {
		return fmt.Errorf("execution %s: %w", exec.ID, domain.ErrConflict)
	}
	exec.Version++
	exec.UpdatedAt = time.Now()
	f.execs[exec.ID] = copyExecution(exec)
	return nil
}

// --- Artifacts ---

func (f *fakeStore) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.CreatedAt = time.Now()
	cp := *a
	f.artifacts[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetArtifact(_ context.Context, id string) (*artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListArtifacts(_ context.Context, projectID string) ([]artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []artifact.Artifact
	for _, a := range f.artifacts {
		if a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- HITL ---

func (f *fakeStore) EnsureSettings(_ context.Context, projectID, sessionID string, limit int) (*hitl.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := settingsKey(projectID, sessionID)
	st, ok := f.settings[key]
	if !ok {
		st = &hitl.Settings{
			ProjectID:        projectID,
			SessionID:        sessionID,
			Enabled:          true,
			ActionLimit:      limit,
			ActionsRemaining: limit,
			UpdatedAt:        time.Now(),
		}
		f.settings[key] = st
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) GetSettings(_ context.Context, projectID, sessionID string) (*hitl.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.settings[settingsKey(projectID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("settings %s/%s: %w", projectID, sessionID, domain.ErrNotFound)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) UpdateSettings(_ context.Context, projectID, sessionID string, req hitl.UpdateRequest) (*hitl.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.settings[settingsKey(projectID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("settings %s/%s: %w", projectID, sessionID, domain.ErrNotFound)
	}
	if req.NewStatus != nil {
		st.Enabled = *req.NewStatus
	}
	if req.NewLimit != nil {
		st.ActionLimit = *req.NewLimit
		st.ActionsRemaining = *req.NewLimit
	}
	st.UpdatedAt = time.Now()
	cp := *st
	return &cp, nil
}

func (f *fakeStore) ConsumeAction(_ context.Context, projectID, sessionID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.settings[settingsKey(projectID, sessionID)]
	if !ok || !st.Enabled || st.ActionsRemaining <= 0 {
		return 0, false, nil
	}
	st.ActionsRemaining--
	return st.ActionsRemaining, true, nil
}

func (f *fakeStore) CreateApprovalRequest(_ context.Context, r *hitl.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.CreatedAt = time.Now()
	cp := *r
	f.requests[r.ID] = &cp
	return nil
}

func (f *fakeStore) GetApprovalRequest(_ context.Context, id string) (*hitl.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) PendingApprovalRequests(_ context.Context, projectID string) ([]hitl.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hitl.Request
	for _, r := range f.requests {
		if r.ProjectID == projectID && r.Status == hitl.StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveApprovalRequest(_ context.Context, id string, status hitl.RequestStatus, decidedBy string) (*hitl.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s: %w", id, domain.ErrNotFound)
	}
	if r.Status != hitl.StatusPending {
		return nil, fmt.Errorf("approval request %s: %w", id, domain.ErrConflict)
	}
	now := time.Now()
	r.Status = status
	r.DecidedBy = decidedBy
	r.RespondedAt = &now
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ExpireApprovalRequests(_ context.Context, now time.Time) ([]hitl.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []hitl.Request
	for _, r := range f.requests {
		if r.Status == hitl.StatusPending && !r.ExpiresAt.After(now) {
			r.Status = hitl.StatusExpired
			r.RespondedAt = &now
			out = append(out, *r)
		}
	}
	return out, nil
}

// --- Budgets ---

func (f *fakeStore) GetBudget(_ context.Context, projectID string, at agent.Type) (*budget.Budget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.budgets[budgetKey(projectID, at)]
	if !ok {
		return nil, fmt.Errorf("budget %s/%s: %w", projectID, at, domain.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) EnsureBudget(_ context.Context, projectID string, at agent.Type, daily, session int64) (*budget.Budget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := budgetKey(projectID, at)
	b, ok := f.budgets[key]
	if !ok {
		b = &budget.Budget{
			ProjectID:       projectID,
			AgentType:       at,
			DailyLimit:      daily,
			SessionLimit:    session,
			WindowStartedAt: time.Now(),
			UpdatedAt:       time.Now(),
		}
		f.budgets[key] = b
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) ResetBudgetWindow(_ context.Context, projectID string, at agent.Type, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.budgets[budgetKey(projectID, at)]
	if !ok {
		return fmt.Errorf("budget %s/%s: %w", projectID, at, domain.ErrNotFound)
	}
	b.UsedToday = 0
	b.WindowStartedAt = startedAt
	return nil
}

func (f *fakeStore) RecordUsage(_ context.Context, projectID string, at agent.Type, taskID string, tokens int64, costUSD float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledger[taskID] {
		return false, nil
	}
	b, ok := f.budgets[budgetKey(projectID, at)]
	if !ok {
		return false, fmt.Errorf("budget %s/%s: %w", projectID, at, domain.ErrNotFound)
	}
	f.ledger[taskID] = true
	b.UsedToday += tokens
	b.UsedSession += tokens
	b.CostUSD += costUSD
	return true, nil
}

// --- Stops ---

func (f *fakeStore) CreateStop(_ context.Context, s *stop.Stop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Active = true
	s.CreatedAt = time.Now()
	cp := *s
	f.stops[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetStop(_ context.Context, id string) (*stop.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stops[id]
	if !ok {
		return nil, fmt.Errorf("stop %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListStops(_ context.Context, activeOnly bool) ([]stop.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stop.Stop
	for _, s := range f.stops {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) ActiveStopFor(_ context.Context, projectID string, at agent.Type) (*stop.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stops {
		if !s.Active {
			continue
		}
		if s.ProjectID != "" && s.ProjectID != projectID {
			continue
		}
		if s.AgentType != "" && s.AgentType != at {
			continue
		}
		cp := *s
		return &cp, nil
	}
	return nil, fmt.Errorf("active stop: %w", domain.ErrNotFound)
}

func (f *fakeStore) DeactivateStop(_ context.Context, id, deactivatedBy string) (*stop.Stop, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stops[id]
	if !ok {
		return nil, fmt.Errorf("stop %s: %w", id, domain.ErrNotFound)
	}
	if !s.Active {
		return nil, fmt.Errorf("stop %s: %w", id, domain.ErrConflict)
	}
	now := time.Now()
	s.Active = false
	s.DeactivatedBy = deactivatedBy
	s.DeactivatedAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

// fakeAudit is an in-memory auditlog.Log.
type fakeAudit struct {
	mu     sync.Mutex
	events []event.AuditEvent
}

func (f *fakeAudit) Append(_ context.Context, ev *event.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeAudit) Query(_ context.Context, filter event.Filter, _ string, limit int) (*event.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.AuditEvent
	for _, ev := range f.events {
		if filter.ProjectID != "" && ev.ProjectID != filter.ProjectID {
			continue
		}
		if filter.TaskID != "" && ev.TaskID != filter.TaskID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return &event.Page{Events: out, Total: len(out)}, nil
}

func (f *fakeAudit) ofType(t event.Type) []event.AuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.AuditEvent
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeHub records broadcasts.
type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeHub) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// dispatchCall records one executor dispatch.
type dispatchCall struct {
	TaskID      string
	ExecutionID string
	Phase       string
	AgentType   agent.Type
	Attempt     int
}

// fakeExec is an in-memory executor.Executor.
type fakeExec struct {
	mu         sync.Mutex
	dispatches []dispatchCall
	cancels    []string
	failWith   error
}

func (f *fakeExec) Dispatch(_ context.Context, t *task.Task, executionID string, _ []string, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.dispatches = append(f.dispatches, dispatchCall{
		TaskID:      t.ID,
		ExecutionID: executionID,
		Phase:       t.Phase,
		AgentType:   t.AgentType,
		Attempt:     attempt,
	})
	return nil
}

func (f *fakeExec) Cancel(_ context.Context, taskID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, taskID)
	return nil
}

func (f *fakeExec) calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.dispatches...)
}

func (f *fakeExec) lastCall() (dispatchCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dispatches) == 0 {
		return dispatchCall{}, false
	}
	return f.dispatches[len(f.dispatches)-1], true
}

// fakeCache is a trivial cache.Cache without TTL handling.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

// env wires the full service graph over in-memory fakes.
type env struct {
	cfg      config.Config
	store    *fakeStore
	audit    *fakeAudit
	hub      *fakeHub
	exec     *fakeExec
	auditSvc *AuditService
	stops    *StopService
	policy   *PolicyService
	budget   *BudgetService
	governor *GovernorService
	coord    *CoordinatorService
	arts     *ArtifactService
	defs     *DefinitionRegistry
	engine   *WorkflowEngine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Defaults()
	cfg.Workflow.RetryBaseDelay = 5 * time.Millisecond
	cfg.Workflow.PhaseTimeout = 0 // tests opting in set it explicitly

	store := newFakeStore()
	audit := &fakeAudit{}
	hub := &fakeHub{}
	exc := &fakeExec{}

	metrics, err := otel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	auditSvc := NewAuditService(audit)
	stops := NewStopService(store, auditSvc, hub)
	policySvc, err := NewPolicyService(store, newFakeCache(), cfg.Policy.CacheTTL, policy.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPolicyService: %v", err)
	}
	budgetSvc := NewBudgetService(store, auditSvc, cfg.Budget)
	governor := NewGovernorService(store, auditSvc, hub, cfg.HITL)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	coord := NewCoordinatorService(store, auditSvc, stops, policySvc, budgetSvc, governor, exc, breaker, hub, metrics)
	arts := NewArtifactService(store)
	defs := NewDefinitionRegistry()
	engine := NewWorkflowEngine(store, defs, coord, governor, arts, auditSvc, exc, hub, metrics, cfg.Workflow)

	governor.SetOnDecision(func(ctx context.Context, r *hitl.Request) {
		coord.HandleDecision(ctx, r)
		engine.HandleDecision(ctx, r)
	})

	return &env{
		cfg:      cfg,
		store:    store,
		audit:    audit,
		hub:      hub,
		exec:     exc,
		auditSvc: auditSvc,
		stops:    stops,
		policy:   policySvc,
		budget:   budgetSvc,
		governor: governor,
		coord:    coord,
		arts:     arts,
		defs:     defs,
		engine:   engine,
	}
}

func (e *env) project(t *testing.T) *project.Project {
	t.Helper()
	p, err := e.store.CreateProject(context.Background(), project.CreateRequest{Name: "demo"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func (e *env) projectInPhase(t *testing.T, phase project.Phase) *project.Project {
	t.Helper()
	p := e.project(t)
	if phase == p.CurrentPhase {
		return p
	}
	p, err := e.store.UpdateProjectPhase(context.Background(), p.ID, phase, p.Version)
	if err != nil {
		t.Fatalf("UpdateProjectPhase: %v", err)
	}
	return p
}
