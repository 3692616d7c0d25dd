package engine

import (
	"sync/atomic"

	"github.com/seantiz/taskforge/internal/model"
)

// TaskContext is the handle a running task body uses to report progress and
// observe cancellation. It is a non-owning view into the engine's record for
// one task, valid only while that task executes.
//
// The cancellation cell is written by the engine and read by the body; the
// body must never assume a cancel request stops it — it polls Cancelled (or
// watches its context) at its own checkpoints and returns.
type TaskContext struct {
	taskID    string
	cancelled *atomic.Bool
	report    func(model.Progress)
}

// TaskID returns the id of the task this context is bound to.
func (tc *TaskContext) TaskID() string {
	return tc.taskID
}

// Cancelled reports whether cancellation has been requested for this task.
func (tc *TaskContext) Cancelled() bool {
	return tc.cancelled.Load()
}

// ReportProgress records a percentage progress report. It is visible to
// concurrent status readers immediately and never blocks the body.
func (tc *TaskContext) ReportProgress(percent float64, message string) {
	tc.report(model.NewProgress(percent, message))
}

// ReportStep records a discrete "step i of n" progress report.
func (tc *TaskContext) ReportStep(current, total int, message string) {
	tc.report(model.NewStepProgress(current, total, message))
}
