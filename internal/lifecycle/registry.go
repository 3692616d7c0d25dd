package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry holds managed subsystems in registration order. Registration order
// is initialization order; shutdown runs in reverse so that dependents stop
// before their dependencies.
type Registry struct {
	mu       sync.RWMutex
	managers []Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a manager. Callers register dependencies before the
// subsystems that use them.
func (r *Registry) Register(m Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers = append(r.managers, m)
}

// InitializeAll initializes managers in registration order, stopping at the
// first failure. Managers initialized before the failure are shut down in
// reverse so no subsystem is left half-started.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.RLock()
	managers := append([]Manager(nil), r.managers...)
	r.mu.RUnlock()

	for i, m := range managers {
		if err := m.Initialize(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := managers[j].Shutdown(ctx); serr != nil {
					err = errors.Join(err, fmt.Errorf("shutdown %s after failed init: %w", managers[j].Name(), serr))
				}
			}
			return fmt.Errorf("initialize %s: %w", m.Name(), err)
		}
	}
	return nil
}

// ShutdownAll shuts managers down in reverse registration order. All managers
// are attempted even if one fails; failures are joined into a single error.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.RLock()
	managers := append([]Manager(nil), r.managers...)
	r.mu.RUnlock()

	var errs []error
	for i := len(managers) - 1; i >= 0; i-- {
		if err := managers[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", managers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// HealthAll reports the health of every registered manager by name.
func (r *Registry) HealthAll() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Health, len(r.managers))
	for _, m := range r.managers {
		out[m.Name()] = m.Health()
	}
	return out
}

// Statuses returns per-manager status snapshots in registration order.
// Managers that do not implement StatusReporter get a health-only entry.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.managers))
	for _, m := range r.managers {
		if sr, ok := m.(StatusReporter); ok {
			out = append(out, sr.Status())
			continue
		}
		out = append(out, Status{Name: m.Name(), Health: m.Health()})
	}
	return out
}

// OverallHealth reduces all manager healths to a single value: unhealthy if
// any manager is unhealthy, else degraded if any is degraded or unknown,
// else healthy. An empty registry is healthy.
func (r *Registry) OverallHealth() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overall := HealthHealthy
	for _, m := range r.managers {
		switch m.Health() {
		case HealthUnhealthy:
			return HealthUnhealthy
		case HealthDegraded, HealthUnknown:
			overall = HealthDegraded
		}
	}
	return overall
}
