package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/taskforge/internal/model"
)

// ErrNotFound is returned when a task is not found.
var ErrNotFound = errors.New("task not found")

// ErrInvalidTransition is returned when a task status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDuplicateID is returned when creating a task whose id already exists.
var ErrDuplicateID = errors.New("duplicate task id")

// ListFilter narrows ListTasks results. Zero values mean "no filter".
type ListFilter struct {
	Status   string
	Category string
	Limit    int
	Offset   int
}

// TaskStats holds aggregate execution statistics computed from live records.
type TaskStats struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByCategory    map[string]int `json:"by_category"`
	ByPriority    map[string]int `json:"by_priority"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the bookkeeping operations for task records. Implementations
// must hand out snapshot copies; callers never receive references into
// engine-owned state.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, f ListFilter) ([]*model.Task, int, error)
	UpdateTaskStatus(ctx context.Context, id, status string) error
	UpdateTask(ctx context.Context, t *model.Task) error
	UpdateTaskProgress(ctx context.Context, id string, p model.Progress) error
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	DeleteTasksBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
