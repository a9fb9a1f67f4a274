// Package auditlog defines the port interface for the append-only audit trail.
package auditlog

import (
	"context"

	"github.com/launchflow/helmsman/internal/domain/event"
)

// Log is the port interface for appending and querying audit events.
// Implementations must never update or delete appended events.
type Log interface {
	// Append persists a new audit event.
	Append(ctx context.Context, ev *event.AuditEvent) error

	// Query returns a cursor-paginated page of events matching the filter,
	// ordered by created_at ascending.
	Query(ctx context.Context, filter event.Filter, cursor string, limit int) (*event.Page, error)
}
