package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
)

// Task category constants. The category determines scheduling weight and
// which worker pool a task body runs on.
const (
	CategoryCore        = "core"
	CategoryPlugin      = "plugin"
	CategoryUI          = "ui"
	CategoryIO          = "io"
	CategoryBackground  = "background"
	CategoryUser        = "user"
	CategoryMaintenance = "maintenance"
)

// categories is the set of known categories.
var categories = map[string]bool{
	CategoryCore:        true,
	CategoryPlugin:      true,
	CategoryUI:          true,
	CategoryIO:          true,
	CategoryBackground:  true,
	CategoryUser:        true,
	CategoryMaintenance: true,
}

// ValidCategory reports whether s names a known task category.
func ValidCategory(s string) bool {
	return categories[s]
}

// Categories returns all known categories in a stable order.
func Categories() []string {
	return []string{
		CategoryCore,
		CategoryPlugin,
		CategoryUI,
		CategoryIO,
		CategoryBackground,
		CategoryUser,
		CategoryMaintenance,
	}
}

// Priority orders tasks within the scheduling queue. Higher values dispatch
// first. The numeric gaps leave room for intermediate levels without
// renumbering.
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 50
	PriorityHigh     Priority = 100
	PriorityCritical Priority = 200
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name to its Priority value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalJSON encodes the priority as its lowercase name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its lowercase name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// validTransitions maps each status to the set of statuses it may transition to.
// pending→cancelled covers queued work cancelled before it ever starts, such
// as during an engine shutdown drain; pending→failed covers dispatch faults
// where the body never ran.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether the status is final. Terminal records never
// transition again.
func TerminalStatus(s string) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Progress is the most recent progress report from a running task body.
// Percent is always within [0, 100].
type Progress struct {
	Percent     float64   `json:"percent"`
	Message     string    `json:"message,omitempty"`
	CurrentStep int       `json:"current_step,omitempty"`
	TotalSteps  int       `json:"total_steps,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewProgress builds a percentage progress report, clamping percent to [0, 100].
func NewProgress(percent float64, message string) Progress {
	return Progress{
		Percent:   clampPercent(percent),
		Message:   message,
		UpdatedAt: time.Now().UTC(),
	}
}

// NewStepProgress builds a step-based progress report ("step i of n"),
// deriving the percentage from the step counts.
func NewStepProgress(current, total int, message string) Progress {
	p := Progress{
		Message:     message,
		CurrentStep: current,
		TotalSteps:  total,
		UpdatedAt:   time.Now().UTC(),
	}
	if total > 0 {
		p.Percent = clampPercent(float64(current) / float64(total) * 100)
	}
	return p
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Task represents a unit of work tracked by the engine from submission to a
// terminal status.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Priority    Priority        `json:"priority"`
	TimeoutS    *int            `json:"timeout_s,omitempty"`
	Cancellable bool            `json:"cancellable"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Progress    *Progress       `json:"progress,omitempty"`
	DurationMS  *int            `json:"duration_ms,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the task. The store hands out clones so that
// callers can never mutate engine-owned records.
func (t *Task) Clone() *Task {
	c := *t
	if t.TimeoutS != nil {
		v := *t.TimeoutS
		c.TimeoutS = &v
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	if t.DurationMS != nil {
		v := *t.DurationMS
		c.DurationMS = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}
