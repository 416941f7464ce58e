package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Scheduler pairs a SyncDriver and an AsyncDriver built from the same options
// and answers lookups across both.
type Scheduler struct {
	Sync  *SyncDriver
	Async *AsyncDriver
}

func New(opts ...Option) *Scheduler {
	return &Scheduler{
		Sync:  NewSyncDriver(opts...),
		Async: NewAsyncDriver(opts...),
	}
}

// Submit registers d in the given domain.
func (s *Scheduler) Submit(domain Domain, d Descriptor) (*Task, error) {
	switch domain {
	case DomainSync:
		return s.Sync.Submit(d)
	case DomainAsync:
		return s.Async.Submit(d)
	default:
		return nil, fmt.Errorf("unknown domain %d", domain)
	}
}

// Tick drives the sync domain.
func (s *Scheduler) Tick() { s.Sync.Tick() }

func (s *Scheduler) Start(ctx context.Context) error { return s.Async.Start(ctx) }

// Shutdown stops the async domain and cancels every sync task.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	for _, t := range s.Sync.Tasks() {
		t.Cancel()
	}
	err := s.Async.Shutdown(ctx)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// Task looks up a live task in either domain.
func (s *Scheduler) Task(id uuid.UUID) (*Task, bool) {
	if t, ok := s.Sync.Task(id); ok {
		return t, true
	}
	return s.Async.Task(id)
}

// Tasks returns every live task, sync first.
func (s *Scheduler) Tasks() []*Task {
	return append(s.Sync.Tasks(), s.Async.Tasks()...)
}

func (s *Scheduler) TasksByOwner(o Owner) []*Task {
	return append(s.Sync.TasksByOwner(o), s.Async.TasksByOwner(o)...)
}

// TasksByName matches pattern (a regular expression) against whole task names.
func (s *Scheduler) TasksByName(pattern string) ([]*Task, error) {
	syncTasks, err := s.Sync.TasksByName(pattern)
	if err != nil {
		return nil, err
	}
	asyncTasks, err := s.Async.TasksByName(pattern)
	if err != nil {
		return nil, err
	}
	return append(syncTasks, asyncTasks...), nil
}

// CancelOwner cancels every live task of o and returns how many it canceled.
func (s *Scheduler) CancelOwner(o Owner) int {
	n := 0
	for _, t := range s.TasksByOwner(o) {
		if !t.IsCancelled() {
			t.Cancel()
			n++
		}
	}
	return n
}

// Snapshot is a diagnostics view of both domains.
type Snapshot struct {
	Tick  int64        `json:"tick"`
	Sync  int          `json:"sync_tasks"`
	Async LoopSnapshot `json:"async"`
	Tasks []TaskInfo   `json:"tasks,omitempty"`
}

// Snapshot returns counters for both domains; withTasks adds per-task info.
func (s *Scheduler) Snapshot(withTasks bool) Snapshot {
	snap := Snapshot{
		Tick:  s.Sync.CurrentTick(),
		Sync:  s.Sync.Len(),
		Async: s.Async.Snapshot(),
	}
	if withTasks {
		for _, t := range s.Tasks() {
			snap.Tasks = append(snap.Tasks, t.Info())
		}
	}
	return snap
}
