package postgres

import (
	"context"
	"fmt"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/agent"
	"github.com/launchflow/helmsman/internal/domain/stop"
)

const stopCols = `id, project_id, agent_type, reason, triggered_by, active, deactivated_by,
	created_at, deactivated_at`

func scanStop(row scannable) (stop.Stop, error) {
	var (
		st        stop.Stop
		projectID *string
		agentType *string
	)
	err := row.Scan(&st.ID, &projectID, &agentType, &st.Reason, &st.TriggeredBy,
		&st.Active, &st.DeactivatedBy, &st.CreatedAt, &st.DeactivatedAt)
	if projectID != nil {
		st.ProjectID = *projectID
	}
	if agentType != nil {
		st.AgentType = agent.Type(*agentType)
	}
	return st, err
}

func (s *Store) CreateStop(ctx context.Context, st *stop.Stop) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO emergency_stops (id, project_id, agent_type, reason, triggered_by, active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 RETURNING created_at`,
		st.ID, nullIfEmpty(st.ProjectID), nullIfEmpty(string(st.AgentType)), st.Reason, st.TriggeredBy)

	if err := row.Scan(&st.CreatedAt); err != nil {
		return fmt.Errorf("create stop: %w", err)
	}
	st.Active = true
	return nil
}

func (s *Store) GetStop(ctx context.Context, id string) (*stop.Stop, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stopCols+` FROM emergency_stops WHERE id = $1`, id)

	st, err := scanStop(row)
	if err != nil {
		return nil, notFoundWrap(err, "get stop %s", id)
	}
	return &st, nil
}

func (s *Store) ListStops(ctx context.Context, activeOnly bool) ([]stop.Stop, error) {
	query := `SELECT ` + stopCols + ` FROM emergency_stops`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stops: %w", err)
	}
	defer rows.Close()

	var stops []stop.Stop
	for rows.Next() {
		st, err := scanStop(rows)
		if err != nil {
			return nil, err
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

// ActiveStopFor returns the first active stop whose scope covers the given
// project and agent type, or domain.ErrNotFound. A NULL project or agent
// column matches everything.
func (s *Store) ActiveStopFor(ctx context.Context, projectID string, agentType agent.Type) (*stop.Stop, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stopCols+` FROM emergency_stops
		 WHERE active
		   AND (project_id IS NULL OR project_id = $1)
		   AND (agent_type IS NULL OR agent_type = $2)
		 ORDER BY created_at
		 LIMIT 1`, projectID, agentType)

	st, err := scanStop(row)
	if err != nil {
		return nil, notFoundWrap(err, "active stop for %s/%s", projectID, agentType)
	}
	return &st, nil
}

func (s *Store) DeactivateStop(ctx context.Context, id, deactivatedBy string) (*stop.Stop, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE emergency_stops
		 SET active = FALSE, deactivated_by = $2, deactivated_at = now()
		 WHERE id = $1 AND active
		 RETURNING `+stopCols, id, deactivatedBy)

	st, err := scanStop(row)
	if err != nil {
		if isNoRows(err) {
			if _, getErr := s.GetStop(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("deactivate stop %s: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("deactivate stop %s: %w", id, err)
	}
	return &st, nil
}
