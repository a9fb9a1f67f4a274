package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/event"
)

// AuditStore implements auditlog.Log using an append-only PostgreSQL table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append persists a new audit event. There is no update or delete path.
func (s *AuditStore) Append(ctx context.Context, ev *event.AuditEvent) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO audit_events (event_type, project_id, task_id, agent_type, payload, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ev.Type, nullIfEmpty(ev.ProjectID), nullIfEmpty(ev.TaskID),
		nullIfEmpty(string(ev.AgentType)), payload, ev.RequestID)

	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Query returns a page of audit events matching the filter, ordered by
// created_at ascending. The cursor is the opaque sequence number of the
// last event on the previous page.
func (s *AuditStore) Query(ctx context.Context, filter event.Filter, cursor string, limit int) (*event.Page, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	where := `WHERE TRUE`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ProjectID != "" {
		where += ` AND project_id = ` + arg(filter.ProjectID)
	}
	if filter.TaskID != "" {
		where += ` AND task_id = ` + arg(filter.TaskID)
	}
	if filter.Type != "" {
		where += ` AND event_type = ` + arg(filter.Type)
	}
	if filter.After != nil {
		where += ` AND created_at > ` + arg(*filter.After)
	}
	if filter.Before != nil {
		where += ` AND created_at < ` + arg(*filter.Before)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM audit_events `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	if cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		where += ` AND seq > ` + arg(seq)
	}

	query := `SELECT id, event_type, project_id, task_id, agent_type, payload, request_id, created_at, seq
		 FROM audit_events ` + where + ` ORDER BY seq LIMIT ` + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var (
		events []event.AuditEvent
		seqs   []int64
	)
	for rows.Next() {
		var (
			ev        event.AuditEvent
			projectID *string
			taskID    *string
			agentType *string
			seq       int64
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &projectID, &taskID, &agentType,
			&ev.Payload, &ev.RequestID, &ev.CreatedAt, &seq); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		seqs = append(seqs, seq)
		if projectID != nil {
			ev.ProjectID = *projectID
		}
		if taskID != nil {
			ev.TaskID = *taskID
		}
		if agentType != nil {
			ev.AgentType = agent.Type(*agentType)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &event.Page{Total: total}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
	} else {
		page.Events = events
	}
	if page.HasMore {
		page.Cursor = strconv.FormatInt(seqs[len(page.Events)-1], 10)
	}
	return page, nil
}
