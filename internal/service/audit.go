package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/event"
	"github.com/launchflow/helmsman/internal/logger"
	"github.com/launchflow/helmsman/internal/port/auditlog"
)

// AuditService appends governance events to the audit trail. Every admission
// decision, approval transition, and workflow state change passes through
// here so the trail alone can reconstruct what happened.
type AuditService struct {
	log auditlog.Log
}

// NewAuditService creates a new AuditService.
func NewAuditService(log auditlog.Log) *AuditService {
	return &AuditService{log: log}
}

// Record appends one audit event. The payload is marshaled to JSON and the
// request ID is taken from the context.
func (s *AuditService) Record(ctx context.Context, evType event.Type, projectID, taskID string, agentType agent.Type, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload for %s: %w", evType, err)
		}
		raw = data
	}

	ev := &event.AuditEvent{
		Type:      evType,
		ProjectID: projectID,
		TaskID:    taskID,
		AgentType: agentType,
		Payload:   raw,
		RequestID: logger.RequestID(ctx),
	}
	if err := s.log.Append(ctx, ev); err != nil {
		return fmt.Errorf("append audit event %s: %w", evType, err)
	}

	slog.Debug("audit event recorded", "type", evType, "project_id", projectID, "task_id", taskID)
	return nil
}

// Query returns a page of audit events matching the filter.
func (s *AuditService) Query(ctx context.Context, filter event.Filter, cursor string, limit int) (*event.Page, error) {
	return s.log.Query(ctx, filter, cursor, limit)
}
