// Package lifecycle defines the uniform init/health/shutdown contract shared
// by the long-lived subsystems, and a registry that starts them in order and
// stops them in reverse.
package lifecycle

import (
	"context"
	"time"
)

// State is the lifecycle state of a managed subsystem.
type State string

// Lifecycle states.
const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
	StateError        State = "error"
)

// Health is the reported health of a managed subsystem.
type Health string

// Health levels.
const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// HealthForState maps a lifecycle state to its default health. Subsystems
// with richer checks may report something more specific.
func HealthForState(s State) Health {
	switch s {
	case StateRunning:
		return HealthHealthy
	case StateInitializing, StateShuttingDown:
		return HealthDegraded
	case StateError:
		return HealthUnhealthy
	default:
		return HealthUnknown
	}
}

// Status is a point-in-time snapshot of a managed subsystem.
type Status struct {
	Name      string     `json:"name"`
	State     State      `json:"state"`
	Health    Health     `json:"health"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Manager is the contract every long-lived subsystem implements. The hosting
// process initializes managers in dependency order and shuts them down in
// reverse; both operations may fail and are bounded by the caller's context.
type Manager interface {
	Name() string
	Initialize(ctx context.Context) error
	Health() Health
	Shutdown(ctx context.Context) error
}

// StatusReporter is implemented by managers that can report a full status
// snapshot in addition to plain health.
type StatusReporter interface {
	Status() Status
}
