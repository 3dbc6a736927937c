package task

import (
	"context"
	"sync"
	"time"

	xerrors "solagent/internal/errors"
)

// MemoryStore keeps task state in process memory. Every read returns a copy.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create stores a copy of task, defaulting its status to pending.
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	switch {
	case task == nil:
		return xerrors.New(xerrors.CodeInvalidArgument, "task is nil")
	case task.ID == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "task id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return ErrTaskConflict
	}
	stamp := m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = stamp
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	task.UpdatedAt = stamp
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get returns a copy of the task.
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if task, ok := m.tasks[id]; ok {
		return cloneTask(task), nil
	}
	return nil, ErrTaskNotFound
}

// Claim moves a pending task to running and counts the attempt. Tasks in
// any other state are returned with the matching sentinel error.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	return m.mutate(id, func(task *Task) error {
		if err := claimable(task); err != nil {
			return err
		}
		task.Status = StatusRunning
		task.Attempts++
		task.clearError()
		return nil
	})
}

func claimable(task *Task) error {
	switch {
	case task.Status == StatusSucceeded:
		return ErrTaskCompleted
	case task.Status == StatusRunning:
		return ErrTaskConflict
	case task.Status == StatusFailed, task.Attempts >= task.MaxRetries:
		return ErrTaskExhausted
	}
	return nil
}

// MarkSucceeded records the result of the running attempt.
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	result.Arguments = cloneRaw(result.Arguments)
	_, err := m.mutate(id, func(task *Task) error {
		task.Status = StatusSucceeded
		task.Result = &result
		task.clearError()
		return nil
	})
	return err
}

// MarkFailed records a failure. Non-terminal failures put the task back to
// pending.
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := m.mutate(id, func(task *Task) error {
		task.Status = StatusPending
		if terminal {
			task.Status = StatusFailed
		}
		task.LastError = lastError
		task.ErrorCode = string(code)
		return nil
	})
	return err
}

// mutate applies fn to the stored task under the write lock, stamps
// UpdatedAt when fn succeeds and returns a copy of the task either way.
func (m *MemoryStore) mutate(id string, fn func(*Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := fn(task); err != nil {
		return cloneTask(task), err
	}
	task.UpdatedAt = m.now().Unix()
	return cloneTask(task), nil
}

// List returns one page of matching tasks.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()
	return opts.page(m.matching(opts)), nil
}

// Stats counts matching tasks per status. Paging options are ignored.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	opts.normalize()
	var stats TaskStats
	for _, task := range m.matching(opts) {
		stats.add(task)
	}
	return stats, nil
}

func (m *MemoryStore) matching(opts ListOptions) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.Match(task) {
			out = append(out, cloneTask(task))
		}
	}
	return out
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
