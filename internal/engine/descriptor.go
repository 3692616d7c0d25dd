package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/taskforge/internal/model"
)

// Runner is the executable body of a task. Run receives a context that is
// cancelled on engine-requested cancellation or timeout, and a TaskContext
// for progress reporting and cooperative cancellation polling. It returns a
// result payload or an error.
type Runner interface {
	Run(ctx context.Context, tc *TaskContext) ([]byte, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, tc *TaskContext) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, tc *TaskContext) ([]byte, error) {
	return f(ctx, tc)
}

// Descriptor describes a unit of work to submit. Everything except the
// runtime status fields is immutable once submitted.
type Descriptor struct {
	Name        string
	Category    string
	Priority    model.Priority
	TimeoutS    int // 0 means the engine default
	Cancellable bool
	Runner      Runner
}

// NewDescriptor builds a descriptor with the defaults most callers want:
// core category, normal priority, cancellable, engine-default timeout.
func NewDescriptor(name string, r Runner) Descriptor {
	return Descriptor{
		Name:        name,
		Category:    model.CategoryCore,
		Priority:    model.PriorityNormal,
		Cancellable: true,
		Runner:      r,
	}
}

func (d Descriptor) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Runner == nil {
		return fmt.Errorf("%w: runner is required", ErrInvalidDescriptor)
	}
	if !model.ValidCategory(d.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidDescriptor, d.Category)
	}
	switch d.Priority {
	case model.PriorityLow, model.PriorityNormal, model.PriorityHigh, model.PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidDescriptor, int(d.Priority))
	}
	if d.TimeoutS < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidDescriptor)
	}
	return nil
}
