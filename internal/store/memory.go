package store

import (
	"context"
	"sync"
	"time"

	"github.com/seantiz/taskforge/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with an in-process map. Task history is not
// retained across restarts; the engine owns all records for the lifetime of
// the process.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
	order []string // ids in insertion order, newest last
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*model.Task),
	}
}

// Close releases the store. It exists to satisfy Store; there is nothing to
// tear down for the in-memory implementation.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateTask inserts a new task record.
func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return ErrDuplicateID
	}
	s.tasks[t.ID] = t.Clone()
	s.order = append(s.order, t.ID)
	return nil
}

// GetTask retrieves a snapshot of a task by ID.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// ListTasks returns task snapshots newest-first, filtered by status and
// category, along with the total count of matching tasks.
func (s *MemoryStore) ListTasks(_ context.Context, f ListFilter) ([]*model.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Task
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.tasks[s.order[i]]
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		matched = append(matched, t)
	}

	total := len(matched)

	offset := f.Offset
	if offset > total {
		offset = total
	}
	end := total
	if f.Limit > 0 && offset+f.Limit < end {
		end = offset + f.Limit
	}

	page := make([]*model.Task, 0, end-offset)
	for _, t := range matched[offset:end] {
		page = append(page, t.Clone())
	}
	return page, total, nil
}

// UpdateTaskStatus transitions a task to a new status, enforcing the status
// state machine. Moving to running records the start time; moving to a
// terminal status records the finish time.
func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if !model.ValidTransition(t.Status, status) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	t.Status = status
	if status == model.StatusRunning {
		t.StartedAt = &now
	}
	if model.TerminalStatus(status) {
		t.FinishedAt = &now
	}
	return nil
}

// UpdateTask applies a finalization update to an existing record. A non-empty
// Status is validated against the state machine; Error is always applied;
// Result, Progress, DurationMS, StartedAt and FinishedAt are applied when set.
func (s *MemoryStore) UpdateTask(_ context.Context, u *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[u.ID]
	if !ok {
		return ErrNotFound
	}
	if u.Status != "" && u.Status != t.Status {
		if !model.ValidTransition(t.Status, u.Status) {
			return ErrInvalidTransition
		}
		t.Status = u.Status
	}

	t.Error = u.Error
	if u.Result != nil {
		t.Result = append([]byte(nil), u.Result...)
	}
	if u.Progress != nil {
		p := *u.Progress
		t.Progress = &p
	}
	if u.DurationMS != nil {
		v := *u.DurationMS
		t.DurationMS = &v
	}
	if u.StartedAt != nil {
		v := *u.StartedAt
		t.StartedAt = &v
	}
	if u.FinishedAt != nil {
		v := *u.FinishedAt
		t.FinishedAt = &v
	}
	return nil
}

// UpdateTaskProgress records the latest progress report for a task. Reports
// arriving after the task reached a terminal status are dropped; the body may
// still be running detached after a timeout and its late reports must not
// overwrite the final record.
func (s *MemoryStore) UpdateTaskProgress(_ context.Context, id string, p model.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if model.TerminalStatus(t.Status) {
		return nil
	}
	t.Progress = &p
	return nil
}

// GetTaskStats computes aggregate statistics over all records.
func (s *MemoryStore) GetTaskStats(_ context.Context) (*TaskStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &TaskStats{
		Total:      len(s.tasks),
		ByStatus:   make(map[string]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[string]int),
	}

	var durSum float64
	var durCount int
	for _, t := range s.tasks {
		stats.ByStatus[t.Status]++
		stats.ByCategory[t.Category]++
		stats.ByPriority[t.Priority.String()]++
		if t.DurationMS != nil {
			durSum += float64(*t.DurationMS)
			durCount++
		}
	}
	if durCount > 0 {
		stats.AvgDurationMS = durSum / float64(durCount)
	}
	return stats, nil
}

// DeleteTasksBefore removes terminal task records that finished before the
// cutoff and returns how many were removed. Non-terminal records are never
// removed.
func (s *MemoryStore) DeleteTasksBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		t := s.tasks[id]
		if model.TerminalStatus(t.Status) && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}
