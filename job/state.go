package job

import (
	"fmt"
	"sync"
)

// JobState represents the current state of a task in a batch
type JobState int

const (
	JobStatePending JobState = iota
	JobStateProcessing
	JobStateCompleted
	JobStateFailed
	JobStateCancelled
)

func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "pending"
	case JobStateProcessing:
		return "processing"
	case JobStateCompleted:
		return "completed"
	case JobStateFailed:
		return "failed"
	case JobStateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// StateTable tracks task states by ID. It is safe for concurrent use and can
// be queried while a batch is running.
type StateTable struct {
	mu     sync.RWMutex
	states map[string]JobState
}

func NewStateTable() *StateTable {
	return &StateTable{states: make(map[string]JobState)}
}

// AddPending registers a task as pending.
func (t *StateTable) AddPending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = JobStatePending
}

// Get returns the current state of a task
func (t *StateTable) Get(id string) (JobState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, exists := t.states[id]
	return state, exists
}

// Pending returns the IDs of tasks that have not started.
func (t *StateTable) Pending() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, s := range t.states {
		if s == JobStatePending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns a copy of the table.
func (t *StateTable) Snapshot() map[string]JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]JobState, len(t.states))
	for id, s := range t.states {
		out[id] = s
	}
	return out
}

// Cancel cancels a task that has not started yet.
func (t *StateTable) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.states[id]
	if !exists {
		return fmt.Errorf("task %s not found", id)
	}

	switch state {
	case JobStateCompleted:
		return fmt.Errorf("task %s is already completed", id)
	case JobStateFailed:
		return fmt.Errorf("task %s has already failed", id)
	case JobStateCancelled:
		return fmt.Errorf("task %s is already cancelled", id)
	case JobStateProcessing:
		return fmt.Errorf("task %s is currently processing and cannot be cancelled", id)
	case JobStatePending:
		t.states[id] = JobStateCancelled
		return nil
	default:
		return fmt.Errorf("task %s is in unknown state", id)
	}
}

// IsCancellable checks if a task can still be cancelled
func (t *StateTable) IsCancellable(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, exists := t.states[id]
	return exists && state == JobStatePending
}

// start moves a pending task to processing. It returns false if the task was
// cancelled in the meantime.
func (t *StateTable) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[id] != JobStatePending {
		return false
	}
	t.states[id] = JobStateProcessing
	return true
}

// finish records the final state of a task. A task that already reached a
// terminal state keeps it.
func (t *StateTable) finish(id string, s JobState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[id].Terminal() {
		return
	}
	t.states[id] = s
}
