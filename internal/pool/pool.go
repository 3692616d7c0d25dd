package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies one of the specialized worker pools.
type Kind string

// Pool kinds.
const (
	KindCompute  Kind = "compute"
	KindIO       Kind = "io"
	KindBlocking Kind = "blocking"
)

// Kinds returns all pool kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindCompute, KindIO, KindBlocking}
}

// ErrQueueFull is returned when a pool's queue has no room for another
// submission.
var ErrQueueFull = errors.New("pool queue is full")

// ErrShutdown is returned when submitting to a pool that has begun shutting
// down.
var ErrShutdown = errors.New("pool is shut down")

// Per-kind queue capacities. I/O work tends to be plentiful and short;
// blocking work is fewer but long-lived.
const (
	computeQueueCapacity  = 1000
	ioQueueCapacity       = 5000
	blockingQueueCapacity = 2000
)

// DefaultWorkers returns the default worker count for a pool kind.
func DefaultWorkers(kind Kind) int {
	switch kind {
	case KindIO:
		return runtime.NumCPU() * 2
	case KindBlocking:
		return 4
	default:
		return runtime.NumCPU()
	}
}

func defaultQueueCapacity(kind Kind) int {
	switch kind {
	case KindIO:
		return ioQueueCapacity
	case KindBlocking:
		return blockingQueueCapacity
	default:
		return computeQueueCapacity
	}
}

// Work is a raw unit of work executed on a pool, producing a result or a
// failure. It carries no task bookkeeping.
type Work func() ([]byte, error)

// Stats is a live snapshot of one pool's counters.
type Stats struct {
	Workers            int     `json:"workers"`
	ActiveWorkers      int     `json:"active_workers"`
	QueueSize          int     `json:"queue_size"`
	QueueCapacity      int     `json:"queue_capacity"`
	PeakQueueSize      int     `json:"peak_queue_size"`
	TotalExecuted      uint64  `json:"total_executed"`
	TotalRejected      uint64  `json:"total_rejected"`
	AvgExecutionMS     float64 `json:"avg_execution_ms"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Pool is a fixed-size worker pool with a bounded submission queue. Workers
// are started by start and never resized afterwards.
type Pool struct {
	kind    Kind
	workers int
	logger  *slog.Logger

	queue        chan func()
	stopCh       chan struct{}
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	active    atomic.Int64
	executed  atomic.Uint64
	rejected  atomic.Uint64
	peakQueue atomic.Int64
	execMS    atomic.Uint64
}

func newPool(kind Kind, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers(kind)
	}
	return &Pool{
		kind:    kind,
		workers: workers,
		logger:  logger,
		queue:   make(chan func(), defaultQueueCapacity(kind)),
		stopCh:  make(chan struct{}),
	}
}

// Kind returns the pool's kind.
func (p *Pool) Kind() Kind {
	return p.kind
}

// start launches the worker goroutines.
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.workerLoop()
		}()
	}
	p.logger.Info("pool started", "pool", p.kind, "workers", p.workers, "queue_capacity", cap(p.queue))
}

// workerLoop services the queue until shutdown, then drains whatever was
// accepted before exiting. Every accepted submission runs exactly once.
func (p *Pool) workerLoop() {
	for {
		select {
		case fn := <-p.queue:
			p.runOne(fn)
		case <-p.stopCh:
			for {
				select {
				case fn := <-p.queue:
					p.runOne(fn)
				default:
					return
				}
			}
		}
	}
}

// runOne executes a single queued function, keeping counters current. A panic
// here means a raw Submit caller let one escape; it is logged and the worker
// survives.
func (p *Pool) runOne(fn func()) {
	p.active.Add(1)
	activeWorkers.WithLabelValues(string(p.kind)).Inc()
	queueDepth.WithLabelValues(string(p.kind)).Set(float64(len(p.queue)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool worker recovered from panic",
				"pool", p.kind, "panic", r, "stack", string(debug.Stack()))
		}
		p.execMS.Add(uint64(time.Since(start).Milliseconds()))
		p.executed.Add(1)
		p.active.Add(-1)
		executedTotal.WithLabelValues(string(p.kind)).Inc()
		activeWorkers.WithLabelValues(string(p.kind)).Dec()
	}()

	fn()
}

// Submit enqueues a function for execution without blocking. It fails with
// ErrShutdown once shutdown has begun and ErrQueueFull when the queue is at
// capacity.
func (p *Pool) Submit(fn func()) error {
	if p.shuttingDown.Load() {
		p.rejected.Add(1)
		rejectedTotal.WithLabelValues(string(p.kind)).Inc()
		return ErrShutdown
	}

	select {
	case p.queue <- fn:
		depth := int64(len(p.queue))
		for {
			peak := p.peakQueue.Load()
			if depth <= peak || p.peakQueue.CompareAndSwap(peak, depth) {
				break
			}
		}
		queueDepth.WithLabelValues(string(p.kind)).Set(float64(depth))
		return nil
	default:
		p.rejected.Add(1)
		rejectedTotal.WithLabelValues(string(p.kind)).Inc()
		return ErrQueueFull
	}
}

// Execute submits a unit of work and returns a handle that resolves to its
// result. A work item that panics resolves the handle with a failure rather
// than crashing the worker.
func (p *Pool) Execute(w Work) (*Handle, error) {
	h := newHandle()
	err := p.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				h.resolve(nil, fmt.Errorf("work panicked: %v", r))
			}
		}()
		h.resolve(w())
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// shutdown stops intake and waits for workers to drain the queue and exit,
// bounded by ctx.
func (p *Pool) shutdown(ctx context.Context) error {
	if p.shuttingDown.Swap(true) {
		return nil
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool stopped", "pool", p.kind, "total_executed", p.executed.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s shutdown: %w", p.kind, ctx.Err())
	}
}

// Stats returns a live snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	executed := p.executed.Load()
	s := Stats{
		Workers:       p.workers,
		ActiveWorkers: int(p.active.Load()),
		QueueSize:     len(p.queue),
		QueueCapacity: cap(p.queue),
		PeakQueueSize: int(p.peakQueue.Load()),
		TotalExecuted: executed,
		TotalRejected: p.rejected.Load(),
	}
	if executed > 0 {
		s.AvgExecutionMS = float64(p.execMS.Load()) / float64(executed)
	}
	if p.workers > 0 {
		s.UtilizationPercent = float64(s.ActiveWorkers) / float64(p.workers) * 100
	}
	return s
}
