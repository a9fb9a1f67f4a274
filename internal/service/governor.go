package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/launchflow/helmsman/internal/config"
	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/hitl"
	"github.com/launchflow/helmsman/internal/port/broadcast"
	"github.com/launchflow/helmsman/internal/port/database"
)

// DecisionFunc is invoked after an approval request reaches a terminal
// status, with the final request state. The workflow engine hooks in here
// to resume or fail executions blocked on phase_retry requests.
type DecisionFunc func(ctx context.Context, r *hitl.Request)

// GovernorService is the human-in-the-loop governor: it spends the
// per-session auto-approval counter, raises explicit approval requests when
// the counter is exhausted or auto-approval is off, and applies human
// decisions first-write-wins.
type GovernorService struct {
	store database.Store
	audit *AuditService
	hub   broadcast.Broadcaster
	cfg   config.HITL

	onDecision DecisionFunc
	now        func() time.Time // for testing
}

// NewGovernorService creates a new GovernorService.
func NewGovernorService(store database.Store, audit *AuditService, hub broadcast.Broadcaster, cfg config.HITL) *GovernorService {
	return &GovernorService{store: store, audit: audit, hub: hub, cfg: cfg, now: time.Now}
}

// SetOnDecision registers the terminal-decision callback. Must be called
// before the service starts handling responses.
func (s *GovernorService) SetOnDecision(fn DecisionFunc) {
	s.onDecision = fn
}

// CheckAction consumes one auto-approval action for the (project, session)
// pair. The decrement is a single conditional update, so concurrent callers
// never overspend the counter. An active emergency stop blocks outright;
// disabled governance waves everything through without touching the
// counter; otherwise the counter is spent or reported exhausted.
func (s *GovernorService) CheckAction(ctx context.Context, projectID, sessionID string) (*hitl.CheckResult, error) {
	if st, err := s.store.ActiveStopFor(ctx, projectID, ""); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	} else if st != nil {
		return &hitl.CheckResult{
			Allowed: false,
			Reason:  hitl.ReasonEmergencyStop,
		}, nil
	}

	settings, err := s.store.EnsureSettings(ctx, projectID, sessionID, s.cfg.DefaultActionLimit)
	if err != nil {
		return nil, err
	}

	if !settings.Enabled {
		return &hitl.CheckResult{
			Allowed:   true,
			Reason:    hitl.ReasonDisabled,
			Remaining: settings.ActionsRemaining,
			Total:     settings.ActionLimit,
		}, nil
	}

	remaining, ok, err := s.store.ConsumeAction(ctx, projectID, sessionID)
	if err != nil {
		return nil, err
	}
	if ok {
		return &hitl.CheckResult{
			Allowed:   true,
			Reason:    hitl.ReasonAvailable,
			Remaining: remaining,
			Total:     settings.ActionLimit,
		}, nil
	}

	// Surface an already-open action request so the caller can present it
	// instead of opening a duplicate.
	var pendingReq *hitl.Request
	if pending, perr := s.store.PendingApprovalRequests(ctx, projectID); perr == nil {
		for i := range pending {
			if pending[i].RequestType == hitl.RequestTypeAction {
				pendingReq = &pending[i]
				break
			}
		}
	}

	return &hitl.CheckResult{
		Allowed:        false,
		Reason:         hitl.ReasonExhausted,
		Remaining:      0,
		Total:          settings.ActionLimit,
		PendingRequest: pendingReq,
		Reconfigure: &hitl.ReconfigurePrompt{
			ProjectID:   projectID,
			SessionID:   sessionID,
			ActionLimit: settings.ActionLimit,
			Remaining:   0,
			Message: fmt.Sprintf("auto-approval budget of %d actions is spent; raise the limit or approve pending requests",
				settings.ActionLimit),
		},
	}, nil
}

// GetSettings returns the settings for a (project, session) pair, creating
// them with defaults if absent.
func (s *GovernorService) GetSettings(ctx context.Context, projectID, sessionID string) (*hitl.Settings, error) {
	return s.store.EnsureSettings(ctx, projectID, sessionID, s.cfg.DefaultActionLimit)
}

// UpdateSettings applies an operator's settings change. A new limit resets
// the remaining counter to the new limit.
func (s *GovernorService) UpdateSettings(ctx context.Context, projectID, sessionID string, req hitl.UpdateRequest) (*hitl.Settings, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}
	if _, err := s.store.EnsureSettings(ctx, projectID, sessionID, s.cfg.DefaultActionLimit); err != nil {
		return nil, err
	}

	settings, err := s.store.UpdateSettings(ctx, projectID, sessionID, req)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeSettingsUpdated, projectID, "", "", settings); err != nil {
		return nil, err
	}
	slog.Info("hitl settings updated",
		"project_id", projectID, "session_id", sessionID,
		"enabled", settings.Enabled, "action_limit", settings.ActionLimit)
	return settings, nil
}

// CreateApprovalRequest opens an explicit approval request with the
// configured expiry window.
func (s *GovernorService) CreateApprovalRequest(ctx context.Context, projectID, taskID, workflowID string, agentType agent.Type, reqType hitl.RequestType, estimatedCost float64, comment string) (*hitl.Request, error) {
	r := &hitl.Request{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		TaskID:        taskID,
		WorkflowID:    workflowID,
		AgentType:     agentType,
		RequestType:   reqType,
		Status:        hitl.StatusPending,
		EstimatedCost: estimatedCost,
		Comment:       comment,
		ExpiresAt:     s.now().Add(s.cfg.ApprovalExpiry),
	}
	if err := s.store.CreateApprovalRequest(ctx, r); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeApprovalRequested, projectID, taskID, agentType, r); err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventApprovalRequired, r)
	return r, nil
}

// GetApprovalRequest returns one approval request by ID.
func (s *GovernorService) GetApprovalRequest(ctx context.Context, id string) (*hitl.Request, error) {
	return s.store.GetApprovalRequest(ctx, id)
}

// PendingRequests returns a project's pending approval requests.
func (s *GovernorService) PendingRequests(ctx context.Context, projectID string) ([]hitl.Request, error) {
	return s.store.PendingApprovalRequests(ctx, projectID)
}

// Respond applies a human decision to a pending request. The first decision
// wins; later ones get ErrConflict. A request past its deadline is marked
// expired and the caller gets RequestExpiredError.
func (s *GovernorService) Respond(ctx context.Context, id string, decision hitl.Decision, decidedBy string) (*hitl.Request, error) {
	var status hitl.RequestStatus
	switch decision {
	case hitl.DecisionApprove:
		status = hitl.StatusApproved
	case hitl.DecisionReject:
		status = hitl.StatusRejected
	default:
		return nil, fmt.Errorf("%w: decision must be approve or reject", domain.ErrValidation)
	}

	r, err := s.store.GetApprovalRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == hitl.StatusPending && s.now().After(r.ExpiresAt) {
		expired, expireErr := s.store.ResolveApprovalRequest(ctx, id, hitl.StatusExpired, "")
		if expireErr != nil && !errors.Is(expireErr, domain.ErrConflict) {
			return nil, expireErr
		}
		if expired != nil {
			s.afterDecision(ctx, expired)
		}
		return nil, &hitl.RequestExpiredError{RequestID: id, ExpiresAt: r.ExpiresAt}
	}

	resolved, err := s.store.ResolveApprovalRequest(ctx, id, status, decidedBy)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeApprovalResolved, resolved.ProjectID, resolved.TaskID, resolved.AgentType, resolved); err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventApprovalResolved, resolved)
	s.afterDecision(ctx, resolved)

	slog.Info("approval request resolved",
		"request_id", id, "status", resolved.Status, "decided_by", decidedBy)
	return resolved, nil
}

func (s *GovernorService) afterDecision(ctx context.Context, r *hitl.Request) {
	if s.onDecision != nil {
		s.onDecision(ctx, r)
	}
}

// RunExpirySweeper periodically expires pending requests past their
// deadline. Blocks until ctx is cancelled.
func (s *GovernorService) RunExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *GovernorService) sweepExpired(ctx context.Context) {
	expired, err := s.store.ExpireApprovalRequests(ctx, s.now())
	if err != nil {
		slog.Error("expire approval requests", "error", err)
		return
	}
	for i := range expired {
		r := &expired[i]
		if err := s.audit.Record(ctx, event.TypeApprovalExpired, r.ProjectID, r.TaskID, r.AgentType, r); err != nil {
			slog.Error("audit expired approval", "request_id", r.ID, "error", err)
		}
		s.hub.BroadcastEvent(ctx, broadcast.EventApprovalResolved, r)
		s.afterDecision(ctx, r)
		slog.Info("approval request expired", "request_id", r.ID, "expired_at", r.ExpiresAt)
	}
}
