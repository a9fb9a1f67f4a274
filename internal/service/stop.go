package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/domain/stop"
	"github.com/launchflow/helmsman/internal/port/broadcast"
	"github.com/launchflow/helmsman/internal/port/database"
)

// StopService manages the emergency-stop kill switch. An active stop wins
// over every other admission check.
type StopService struct {
	store database.Store
	audit *AuditService
	hub   broadcast.Broadcaster
}

// NewStopService creates a new StopService.
func NewStopService(store database.Store, audit *AuditService, hub broadcast.Broadcaster) *StopService {
	return &StopService{store: store, audit: audit, hub: hub}
}

// Trigger activates an emergency stop for the requested scope.
func (s *StopService) Trigger(ctx context.Context, req stop.TriggerRequest) (*stop.Stop, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	st := &stop.Stop{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		AgentType:   req.AgentType,
		Reason:      req.Reason,
		TriggeredBy: req.TriggeredBy,
	}
	if err := s.store.CreateStop(ctx, st); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeStopTriggered, st.ProjectID, "", st.AgentType, st); err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventEmergencyStop, st)

	slog.Warn("emergency stop triggered", "scope", st.Scope(), "reason", st.Reason, "by", st.TriggeredBy)
	return st, nil
}

// Deactivate lifts an active stop. Already-inactive stops yield ErrConflict.
func (s *StopService) Deactivate(ctx context.Context, id, deactivatedBy string) (*stop.Stop, error) {
	st, err := s.store.DeactivateStop(ctx, id, deactivatedBy)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, event.TypeStopDeactivated, st.ProjectID, "", st.AgentType, st); err != nil {
		return nil, err
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventEmergencyStop, st)

	slog.Info("emergency stop deactivated", "scope", st.Scope(), "by", deactivatedBy)
	return st, nil
}

// List returns stops, optionally only active ones.
func (s *StopService) List(ctx context.Context, activeOnly bool) ([]stop.Stop, error) {
	return s.store.ListStops(ctx, activeOnly)
}

// Get returns one stop by ID.
func (s *StopService) Get(ctx context.Context, id string) (*stop.Stop, error) {
	return s.store.GetStop(ctx, id)
}

// ActiveFor returns the active stop covering the given scope, or nil.
func (s *StopService) ActiveFor(ctx context.Context, projectID string, agentType agent.Type) (*stop.Stop, error) {
	st, err := s.store.ActiveStopFor(ctx, projectID, agentType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}
