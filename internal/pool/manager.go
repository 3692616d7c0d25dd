package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/taskforge/internal/lifecycle"
)

// Config sets the worker count per pool kind. Zero values fall back to the
// per-kind defaults.
type Config struct {
	ComputeWorkers  int
	IOWorkers       int
	BlockingWorkers int
}

// Compile-time interface satisfaction checks.
var (
	_ lifecycle.Manager        = (*Manager)(nil)
	_ lifecycle.StatusReporter = (*Manager)(nil)
)

// Manager owns the three worker pools and implements the lifecycle contract
// for them as a unit. Pools are created up front and started on Initialize;
// they are never resized at runtime.
type Manager struct {
	logger   *slog.Logger
	compute  *Pool
	io       *Pool
	blocking *Pool

	mu        sync.Mutex
	state     lifecycle.State
	startedAt *time.Time
}

// NewManager creates the pools without starting any workers.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		compute:  newPool(KindCompute, cfg.ComputeWorkers, logger),
		io:       newPool(KindIO, cfg.IOWorkers, logger),
		blocking: newPool(KindBlocking, cfg.BlockingWorkers, logger),
		state:    lifecycle.StateCreated,
	}
}

// Name identifies the manager in lifecycle reporting.
func (m *Manager) Name() string {
	return "concurrency_engine"
}

// Initialize starts the workers of all pools. It fails if called more than
// once.
func (m *Manager) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != lifecycle.StateCreated {
		return fmt.Errorf("concurrency engine is %s, expected %s", m.state, lifecycle.StateCreated)
	}
	m.state = lifecycle.StateInitializing

	for _, p := range m.pools() {
		p.start()
	}

	now := time.Now().UTC()
	m.startedAt = &now
	m.state = lifecycle.StateRunning
	m.logger.Info("concurrency engine initialized",
		"compute_workers", m.compute.workers,
		"io_workers", m.io.workers,
		"blocking_workers", m.blocking.workers,
	)
	return nil
}

// Shutdown stops intake on every pool and waits for workers to drain,
// bounded by ctx. It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == lifecycle.StateShutdown || m.state == lifecycle.StateShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.state = lifecycle.StateShuttingDown
	m.mu.Unlock()

	var firstErr error
	for _, p := range m.pools() {
		if err := p.shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	if firstErr != nil {
		m.state = lifecycle.StateError
	} else {
		m.state = lifecycle.StateShutdown
	}
	m.mu.Unlock()

	if firstErr == nil {
		m.logger.Info("concurrency engine stopped")
	}
	return firstErr
}

// Health reports the manager's health from its lifecycle state.
func (m *Manager) Health() lifecycle.Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lifecycle.HealthForState(m.state)
}

// Status returns a lifecycle snapshot for health reporting.
func (m *Manager) Status() lifecycle.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lifecycle.Status{
		Name:      m.Name(),
		State:     m.state,
		Health:    lifecycle.HealthForState(m.state),
		StartedAt: m.startedAt,
	}
}

// Submit enqueues a raw function on the pool of the given kind. This is the
// path the task engine dispatches through.
func (m *Manager) Submit(kind Kind, fn func()) error {
	p, err := m.pool(kind)
	if err != nil {
		return err
	}
	return p.Submit(fn)
}

// ExecuteCompute runs work on the compute pool.
func (m *Manager) ExecuteCompute(w Work) (*Handle, error) {
	return m.compute.Execute(w)
}

// ExecuteIO runs work on the I/O pool.
func (m *Manager) ExecuteIO(w Work) (*Handle, error) {
	return m.io.Execute(w)
}

// ExecuteBlocking runs work on the blocking pool.
func (m *Manager) ExecuteBlocking(w Work) (*Handle, error) {
	return m.blocking.Execute(w)
}

// Stats returns a live snapshot of every pool's counters.
func (m *Manager) Stats() map[Kind]Stats {
	out := make(map[Kind]Stats, 3)
	for _, p := range m.pools() {
		out[p.kind] = p.Stats()
	}
	return out
}

func (m *Manager) pools() []*Pool {
	return []*Pool{m.compute, m.io, m.blocking}
}

func (m *Manager) pool(kind Kind) (*Pool, error) {
	switch kind {
	case KindCompute:
		return m.compute, nil
	case KindIO:
		return m.io, nil
	case KindBlocking:
		return m.blocking, nil
	default:
		return nil, fmt.Errorf("unknown pool kind %q", kind)
	}
}
