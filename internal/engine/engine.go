package engine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/taskforge/internal/lifecycle"
	"github.com/seantiz/taskforge/internal/model"
	"github.com/seantiz/taskforge/internal/pool"
	"github.com/seantiz/taskforge/internal/store"
)

// Engine errors.
var (
	// ErrInvalidDescriptor is returned by Submit when a descriptor fails
	// validation.
	ErrInvalidDescriptor = errors.New("invalid task descriptor")

	// ErrQueueFull is returned by Submit when the category's pending queue
	// is at its configured depth.
	ErrQueueFull = errors.New("task queue is full")

	// ErrEngineShutdown is returned by Submit once shutdown has begun.
	ErrEngineShutdown = errors.New("task engine is shut down")

	// ErrWaitTimeout is returned by WaitFor when the wait timeout elapses
	// before the task reaches a terminal status. It is distinct from the
	// task's own execution timeout.
	ErrWaitTimeout = errors.New("wait timed out")

	// ErrNotCancellable is returned by Cancel for tasks whose descriptor
	// opted out of cancellation.
	ErrNotCancellable = errors.New("task is not cancellable")

	// ErrCancelled is the cancellation cause set on a running body's context
	// when cancellation is requested.
	ErrCancelled = errors.New("task cancelled")
)

// DefaultTimeoutS is the per-task execution timeout in seconds when a
// descriptor does not set one and the config leaves it zero.
const DefaultTimeoutS = 300

// DefaultMaxQueueDepth bounds each category's pending queue when the config
// leaves it zero.
const DefaultMaxQueueDepth = 1000

// dispatchRetryDelay is how long the dispatcher waits before retrying after
// a pool rejected a submission.
const dispatchRetryDelay = 50 * time.Millisecond

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// DefaultTimeoutS is applied to descriptors that do not set a timeout.
	DefaultTimeoutS int
	// MaxConcurrent caps how many tasks may occupy pool slots at once.
	// Defaults to twice the CPU count.
	MaxConcurrent int
	// MaxQueueDepth caps the pending queue per category; Submit fails with
	// ErrQueueFull beyond it.
	MaxQueueDepth int
	// CategoryLimits optionally caps concurrently running tasks per
	// category. Checked only at dispatch; running tasks are never preempted.
	CategoryLimits map[string]int
}

// Stats is a point-in-time aggregate over task records, the pending queue,
// and the worker pools.
type Stats struct {
	Tasks   *store.TaskStats         `json:"tasks"`
	Queued  int                      `json:"queued"`
	Running int                      `json:"running"`
	Pools   map[pool.Kind]pool.Stats `json:"pools"`
}

// liveTask is the engine-private control block for a task that has not yet
// reached a terminal status. The cancelled cell is shared with the task's
// TaskContext; cancelBody is assigned under the engine mutex once the body
// context exists.
type liveTask struct {
	id          string
	name        string
	category    string
	priority    model.Priority
	timeoutS    int
	cancellable bool
	runner      Runner

	cancelled  atomic.Bool
	cancelBody context.CancelCauseFunc
}

// Compile-time interface satisfaction checks.
var (
	_ lifecycle.Manager        = (*Engine)(nil)
	_ lifecycle.StatusReporter = (*Engine)(nil)
)

// Engine schedules submitted tasks by priority and category, dispatches them
// onto the concurrency engine's pools, and tracks each record to a terminal
// status. Bookkeeping is serialized on one mutex; critical sections cover
// queue and counter manipulation only, never a body's execution.
type Engine struct {
	store  store.Store
	pools  *pool.Manager
	logger *slog.Logger
	cfg    Config
	broker *ProgressBroker

	mu          sync.Mutex
	state       lifecycle.State
	startedAt   *time.Time
	queue       taskQueue
	seq         uint64
	live        map[string]*liveTask
	inflight    int
	byCat       map[string]int
	queuedByCat map[string]int

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup // dispatch loop
	tasks  sync.WaitGroup // in-flight task wrappers
}

// NewEngine creates the engine without starting its dispatcher.
func NewEngine(cfg Config, s store.Store, pools *pool.Manager, logger *slog.Logger) *Engine {
	if cfg.DefaultTimeoutS <= 0 {
		cfg.DefaultTimeoutS = DefaultTimeoutS
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = runtime.NumCPU() * 2
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = DefaultMaxQueueDepth
	}
	return &Engine{
		store:       s,
		pools:       pools,
		logger:      logger,
		cfg:         cfg,
		broker:      NewProgressBroker(),
		state:       lifecycle.StateCreated,
		live:        make(map[string]*liveTask),
		byCat:       make(map[string]int),
		queuedByCat: make(map[string]int),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Name identifies the engine in lifecycle reporting.
func (e *Engine) Name() string {
	return "task_engine"
}

// Initialize starts the dispatch loop. It fails if called more than once.
func (e *Engine) Initialize(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != lifecycle.StateCreated {
		return fmt.Errorf("task engine is %s, expected %s", e.state, lifecycle.StateCreated)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchLoop()
	}()

	now := time.Now().UTC()
	e.startedAt = &now
	e.state = lifecycle.StateRunning
	e.logger.Info("task engine initialized",
		"max_concurrent", e.cfg.MaxConcurrent,
		"max_queue_depth", e.cfg.MaxQueueDepth,
		"default_timeout_s", e.cfg.DefaultTimeoutS,
	)
	return nil
}

// Shutdown refuses further submissions, cancels queued tasks outright,
// requests cancellation from running bodies, and waits for in-flight
// wrappers bounded by ctx. It is safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state == lifecycle.StateShutdown || e.state == lifecycle.StateShuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.state = lifecycle.StateShuttingDown
	close(e.stopCh)

	// Queued tasks never started; cancel their records directly.
	var drained []*liveTask
	for e.queue.Len() > 0 {
		item := heap.Pop(&e.queue).(*queueItem)
		item.task.cancelled.Store(true)
		delete(e.live, item.task.id)
		drained = append(drained, item.task)
	}
	clear(e.queuedByCat)
	tasksQueued.Set(0)

	// Running tasks get a cooperative cancellation signal.
	for _, lt := range e.live {
		lt.cancelled.Store(true)
		if lt.cancelBody != nil {
			lt.cancelBody(ErrCancelled)
		}
	}
	e.mu.Unlock()

	for _, lt := range drained {
		e.finishAbnormal(lt, model.StatusCancelled, nil, "cancelled on engine shutdown")
		e.broker.Close(lt.id)
	}
	if len(drained) > 0 {
		e.logger.Info("cancelled queued tasks on shutdown", "count", len(drained))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.tasks.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("task engine shutdown: %w", ctx.Err())
	}

	e.mu.Lock()
	if err != nil {
		e.state = lifecycle.StateError
	} else {
		e.state = lifecycle.StateShutdown
	}
	e.mu.Unlock()

	if err == nil {
		e.logger.Info("task engine stopped")
	}
	return err
}

// Health reports the engine's health from its lifecycle state.
func (e *Engine) Health() lifecycle.Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lifecycle.HealthForState(e.state)
}

// Status returns a lifecycle snapshot for health reporting.
func (e *Engine) Status() lifecycle.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lifecycle.Status{
		Name:      e.Name(),
		State:     e.state,
		Health:    lifecycle.HealthForState(e.state),
		StartedAt: e.startedAt,
	}
}

// Submit validates the descriptor, creates a pending record, and enqueues it
// for dispatch. It returns the new task's id immediately; execution happens
// asynchronously in priority order.
func (e *Engine) Submit(ctx context.Context, d Descriptor) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}

	timeoutS := d.TimeoutS
	if timeoutS <= 0 {
		timeoutS = e.cfg.DefaultTimeoutS
	}

	t := &model.Task{
		ID:          model.NewID(),
		Name:        d.Name,
		Category:    d.Category,
		Priority:    d.Priority,
		TimeoutS:    &timeoutS,
		Cancellable: d.Cancellable,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	lt := &liveTask{
		id:          t.ID,
		name:        d.Name,
		category:    d.Category,
		priority:    d.Priority,
		timeoutS:    timeoutS,
		cancellable: d.Cancellable,
		runner:      d.Runner,
	}

	e.mu.Lock()
	if e.state != lifecycle.StateRunning {
		e.mu.Unlock()
		return "", ErrEngineShutdown
	}
	if e.queuedByCat[d.Category] >= e.cfg.MaxQueueDepth {
		e.mu.Unlock()
		return "", ErrQueueFull
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("create task: %w", err)
	}
	e.live[t.ID] = lt
	e.seq++
	heap.Push(&e.queue, &queueItem{task: lt, seq: e.seq})
	e.queuedByCat[d.Category]++
	tasksQueued.Set(float64(e.queue.Len()))
	e.mu.Unlock()

	tasksSubmitted.WithLabelValues(d.Category, d.Priority.String()).Inc()
	e.signalWake()

	e.logger.Info("task submitted",
		"task_id", t.ID, "name", d.Name,
		"category", d.Category, "priority", d.Priority.String(),
	)
	return t.ID, nil
}

// Get returns a snapshot of the task record.
func (e *Engine) Get(ctx context.Context, id string) (*model.Task, error) {
	return e.store.GetTask(ctx, id)
}

// List returns task snapshots matching the filter, newest first, plus the
// total match count before pagination.
func (e *Engine) List(ctx context.Context, f store.ListFilter) ([]*model.Task, int, error) {
	return e.store.ListTasks(ctx, f)
}

// WaitFor blocks until the task reaches a terminal status, the wait timeout
// elapses (ErrWaitTimeout), or ctx is done. A zero timeout waits
// indefinitely, bounded only by ctx. Waiting does not occupy a pool worker.
func (e *Engine) WaitFor(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	// Subscribe before the initial read so a terminal transition between
	// the two cannot be missed.
	ch, unsub := e.broker.Subscribe(id)
	defer unsub()

	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.TerminalStatus(t.Status) {
		return t, nil
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				// Topic closed: the task is terminal.
				return e.store.GetTask(ctx, id)
			}
		case <-timeoutCh:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel requests cooperative cancellation of a task. Cancelling a task that
// is already terminal is a no-op. It fails with ErrNotCancellable if the
// descriptor opted out, and store.ErrNotFound for unknown ids. The returned
// snapshot reflects the record at the time of the request; the body stops at
// its own next checkpoint, not immediately.
func (e *Engine) Cancel(ctx context.Context, id string) (*model.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.TerminalStatus(t.Status) {
		return t, nil
	}
	if !t.Cancellable {
		return nil, ErrNotCancellable
	}

	e.mu.Lock()
	if lt, ok := e.live[id]; ok {
		lt.cancelled.Store(true)
		if lt.cancelBody != nil {
			lt.cancelBody(ErrCancelled)
		}
	}
	e.mu.Unlock()

	e.logger.Info("task cancellation requested", "task_id", id)
	return e.store.GetTask(ctx, id)
}

// Stats returns aggregate task counts plus queue and pool snapshots.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	ts, err := e.store.GetTaskStats(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	queued := e.queue.Len()
	running := e.inflight
	e.mu.Unlock()

	return &Stats{
		Tasks:   ts,
		Queued:  queued,
		Running: running,
		Pools:   e.pools.Stats(),
	}, nil
}

// Cleanup removes terminal task records that finished more than maxAge ago
// and returns how many were removed.
func (e *Engine) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed, err := e.store.DeleteTasksBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("cleaned up task records", "removed", removed)
	}
	return removed, nil
}

// Subscribe returns a channel of progress reports for the task and an
// unsubscribe function. The channel closes when the task reaches a terminal
// status; if it already has, the channel is closed on return.
func (e *Engine) Subscribe(id string) (<-chan model.Progress, func()) {
	return e.broker.Subscribe(id)
}

// signalWake nudges the dispatch loop without blocking.
func (e *Engine) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) dispatchLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
			e.dispatchReady()
		}
	}
}

// dispatchReady releases queued work onto the pools while concurrency
// capacity allows, highest priority first.
func (e *Engine) dispatchReady() {
	for {
		e.mu.Lock()
		if e.state != lifecycle.StateRunning || e.inflight >= e.cfg.MaxConcurrent {
			e.mu.Unlock()
			return
		}
		item := e.nextEligibleLocked()
		if item == nil {
			e.mu.Unlock()
			return
		}
		lt := item.task
		e.inflight++
		e.byCat[lt.category]++
		tasksQueued.Set(float64(e.queue.Len()))
		e.tasks.Add(1)
		e.mu.Unlock()

		if err := e.pools.Submit(poolKindFor(lt.category), func() { e.run(lt) }); err != nil {
			e.tasks.Done()
			e.mu.Lock()
			e.inflight--
			e.byCat[lt.category]--
			stopping := e.state != lifecycle.StateRunning
			if !stopping {
				heap.Push(&e.queue, item)
				e.queuedByCat[lt.category]++
				tasksQueued.Set(float64(e.queue.Len()))
			} else {
				delete(e.live, lt.id)
			}
			e.mu.Unlock()

			if stopping {
				e.finishAbnormal(lt, model.StatusCancelled, nil, "cancelled on engine shutdown")
				e.broker.Close(lt.id)
				return
			}
			e.logger.Warn("pool rejected dispatch, retrying",
				"task_id", lt.id, "pool", string(poolKindFor(lt.category)), "error", err)
			time.AfterFunc(dispatchRetryDelay, e.signalWake)
			return
		}

		tasksRunning.Inc()
		e.logger.Debug("task dispatched",
			"task_id", lt.id, "category", lt.category, "priority", lt.priority.String())
	}
}

// nextEligibleLocked pops the highest-priority queued task whose category has
// concurrency headroom. Skipped items are pushed back carrying their original
// sequence numbers, so FIFO order within a priority level is preserved.
// Callers hold e.mu.
func (e *Engine) nextEligibleLocked() *queueItem {
	var picked *queueItem
	var skipped []*queueItem
	for e.queue.Len() > 0 {
		item := heap.Pop(&e.queue).(*queueItem)
		limit, ok := e.cfg.CategoryLimits[item.task.category]
		if ok && limit > 0 && e.byCat[item.task.category] >= limit {
			skipped = append(skipped, item)
			continue
		}
		picked = item
		e.queuedByCat[item.task.category]--
		break
	}
	for _, item := range skipped {
		heap.Push(&e.queue, item)
	}
	return picked
}

// poolKindFor maps a task category to the worker pool that runs its body.
func poolKindFor(category string) pool.Kind {
	switch category {
	case model.CategoryIO:
		return pool.KindIO
	case model.CategoryBackground, model.CategoryMaintenance:
		return pool.KindBlocking
	default:
		return pool.KindCompute
	}
}

// run executes a dispatched task on a pool worker: it transitions the record
// to running, races the body against the task timeout, and records the
// terminal outcome. The body runs on its own goroutine so that a timeout can
// detach the record and free the worker slot even if the body never returns.
func (e *Engine) run(lt *liveTask) {
	defer e.tasks.Done()
	defer func() {
		// Release the slot before closing the progress topic so that a
		// waiter woken by the close observes settled counters.
		e.mu.Lock()
		delete(e.live, lt.id)
		e.inflight--
		e.byCat[lt.category]--
		e.mu.Unlock()
		tasksRunning.Dec()
		e.broker.Close(lt.id)
		e.signalWake()
	}()

	// A cancel that landed while the task was queued: finalize without
	// running the body.
	if lt.cancelled.Load() {
		e.finishAbnormal(lt, model.StatusCancelled, nil, "cancelled before start")
		return
	}

	if err := e.store.UpdateTaskStatus(context.Background(), lt.id, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition task to running", "task_id", lt.id, "error", err)
		e.finishAbnormal(lt, model.StatusFailed, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	start := time.Now()
	deadline := start.Add(time.Duration(lt.timeoutS) * time.Second)

	bodyCtx, cancelBody := context.WithCancelCause(context.Background())
	bodyCtx, cancelDeadline := context.WithDeadline(bodyCtx, deadline)
	defer cancelDeadline()
	defer cancelBody(nil)

	e.mu.Lock()
	lt.cancelBody = cancelBody
	requested := lt.cancelled.Load()
	e.mu.Unlock()
	if requested {
		// Cancel arrived between dispatch and here; let the body see it
		// immediately.
		cancelBody(ErrCancelled)
	}

	tc := &TaskContext{
		taskID:    lt.id,
		cancelled: &lt.cancelled,
		report: func(p model.Progress) {
			if err := e.store.UpdateTaskProgress(context.Background(), lt.id, p); err != nil {
				e.logger.Error("failed to record progress", "task_id", lt.id, "error", err)
			}
			e.broker.Publish(lt.id, p)
		},
	}

	type bodyResult struct {
		data     []byte
		err      error
		panicked bool
	}
	resCh := make(chan bodyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("task body panicked",
					"task_id", lt.id, "panic", r, "stack", string(debug.Stack()))
				resCh <- bodyResult{err: fmt.Errorf("task panicked: %v", r), panicked: true}
			}
		}()
		data, err := lt.runner.Run(bodyCtx, tc)
		resCh <- bodyResult{data: data, err: err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-resCh:
		durationMS := int(time.Since(start).Milliseconds())
		switch {
		case res.err == nil:
			e.finishCompleted(lt, res.data, durationMS)
		case res.panicked:
			e.finishAbnormal(lt, model.StatusFailed, &start, res.err.Error())
		case errors.Is(context.Cause(bodyCtx), context.DeadlineExceeded):
			// The body returned just as the task deadline fired; same
			// outcome as the timer winning the race below.
			e.finishAbnormal(lt, model.StatusTimedOut, &start, fmt.Sprintf("task timed out after %ds", lt.timeoutS))
			e.logger.Warn("task timed out", "task_id", lt.id, "timeout_s", lt.timeoutS)
		case lt.cancelled.Load():
			e.finishAbnormal(lt, model.StatusCancelled, &start, "task cancelled")
			e.logger.Info("task cancelled", "task_id", lt.id, "duration_ms", durationMS)
		default:
			e.finishAbnormal(lt, model.StatusFailed, &start, res.err.Error())
			e.logger.Info("task failed", "task_id", lt.id, "duration_ms", durationMS, "error", res.err.Error())
		}
	case <-timer.C:
		// Detach: the record goes terminal and the worker slot is freed even
		// though the body may still be running. Its eventual result is
		// discarded; late progress reports are dropped by the store.
		e.finishAbnormal(lt, model.StatusTimedOut, &start, fmt.Sprintf("task timed out after %ds", lt.timeoutS))
		e.logger.Warn("task timed out", "task_id", lt.id, "timeout_s", lt.timeoutS)
		go func() {
			res := <-resCh
			e.logger.Debug("discarded result of timed out task", "task_id", lt.id, "late_error", res.err)
		}()
	}
}

// finishCompleted records a successful terminal outcome with the body's
// result and a final 100% progress report.
func (e *Engine) finishCompleted(lt *liveTask, result []byte, durationMS int) {
	now := time.Now().UTC()
	prog := model.NewProgress(100, "Task completed")
	t := &model.Task{
		ID:         lt.id,
		Status:     model.StatusCompleted,
		Result:     result,
		Progress:   &prog,
		DurationMS: &durationMS,
		FinishedAt: &now,
	}
	if err := e.store.UpdateTask(context.Background(), t); err != nil {
		e.logger.Error("failed to finalize completed task", "task_id", lt.id, "error", err)
	}
	e.broker.Publish(lt.id, prog)

	tasksFinished.WithLabelValues(lt.category, model.StatusCompleted).Inc()
	taskDuration.WithLabelValues(lt.category).Observe(float64(durationMS) / 1000)
	e.logger.Info("task completed", "task_id", lt.id, "duration_ms", durationMS)
}

// finishAbnormal records a non-success terminal status with the given error
// message. startedAt is nil when the body never started.
func (e *Engine) finishAbnormal(lt *liveTask, status string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	t := &model.Task{
		ID:         lt.id,
		Status:     status,
		Error:      errMsg,
		FinishedAt: &now,
	}
	if startedAt != nil {
		durationMS := int(time.Since(*startedAt).Milliseconds())
		t.DurationMS = &durationMS
		taskDuration.WithLabelValues(lt.category).Observe(float64(durationMS) / 1000)
	}
	if err := e.store.UpdateTask(context.Background(), t); err != nil {
		e.logger.Error("failed to finalize task",
			"task_id", lt.id, "status", status, "error", err)
	}
	tasksFinished.WithLabelValues(lt.category, status).Inc()
}
