package service

import (
	"context"

	"github.com/launchflow/helmsman/internal/domain/task"
	"github.com/launchflow/helmsman/internal/port/database"
)

// TaskService reads tasks. Creation goes through the coordinator's admission
// gates; results arrive through the workflow engine.
type TaskService struct {
	store database.Store
}

// NewTaskService creates a new TaskService.
func NewTaskService(store database.Store) *TaskService {
	return &TaskService{store: store}
}

// List returns a project's tasks, newest first.
func (s *TaskService) List(ctx context.Context, projectID string) ([]task.Task, error) {
	return s.store.ListTasks(ctx, projectID)
}

// Get returns one task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}
