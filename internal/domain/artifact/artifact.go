// Package artifact defines the write-once context artifact entity.
// Artifacts are produced by tasks and referenced (never copied) by
// subsequent tasks via their id.
package artifact

import (
	"errors"
	"time"
)

// Type categorizes an artifact's content.
type Type string

const (
	TypeDocument Type = "document"
	TypeCode     Type = "code"
	TypeReport   Type = "report"
	TypeData     Type = "data"
)

// Artifact is a persisted task output consumable by later tasks.
// Write-once: never updated or deleted after creation.
type Artifact struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	TaskID    string            `json:"task_id"`
	Type      Type              `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Draft holds the fields of an artifact before persistence, as reported
// by the agent executor alongside a task result.
type Draft struct {
	Type     Type              `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks a draft for required fields.
func (d *Draft) Validate() error {
	if d.Type == "" {
		return errors.New("artifact type is required")
	}
	if d.Content == "" {
		return errors.New("artifact content is required")
	}
	return nil
}
