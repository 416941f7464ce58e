package scheduler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Domain names the driver a task belongs to.
type Domain uint8

const (
	DomainSync Domain = iota
	DomainAsync
)

func (d Domain) String() string {
	if d == DomainAsync {
		return "async"
	}
	return "sync"
}

func (d Domain) letter() string {
	if d == DomainAsync {
		return "A"
	}
	return "S"
}

// Task is the handle of a submitted descriptor. All methods are safe for
// concurrent use.
type Task struct {
	id          uuid.UUID
	name        string
	desc        Descriptor
	core        *core
	submittedAt time.Time
	maxFailures int

	state     atomic.Int32
	tickStamp atomic.Int64
	nanoStamp atomic.Int64
	runs      atomic.Uint64
	failures  atomic.Int32
	// cronWait is the wall time from the last stamp to the next cron fire.
	cronWait atomic.Int64
}

func (t *Task) ID() uuid.UUID            { return t.id }
func (t *Task) Name() string             { return t.name }
func (t *Task) Descriptor() Descriptor   { return t.desc }
func (t *Task) Owner() Owner             { return t.desc.owner }
func (t *Task) Domain() Domain           { return t.core.domain }
func (t *Task) State() State             { return State(t.state.Load()) }
func (t *Task) IsCancelled() bool        { return t.State() == StateCanceled }
func (t *Task) SubmittedAt() time.Time   { return t.submittedAt }
func (t *Task) Runs() uint64             { return t.runs.Load() }
func (t *Task) ConsecutiveFailures() int { return int(t.failures.Load()) }

func (t *Task) String() string {
	return fmt.Sprintf("Task{name=%s, id=%s, domain=%s, state=%s, delay=%s, interval=%s}",
		t.name, t.id, t.Domain(), t.State(), t.desc.delay, t.desc.interval)
}

// Cancel stops all future executions. It reports true when the task had not
// started running yet (WAITING or SWITCHING); an invocation already in
// progress is not interrupted. Cancel is idempotent.
func (t *Task) Cancel() bool {
	for {
		prev := State(t.state.Load())
		if prev == StateCanceled {
			return true
		}
		if t.state.CompareAndSwap(int32(prev), int32(StateCanceled)) {
			if prev == StateRunning && !t.desc.IsPeriodic() {
				// A finished one-shot: nothing was left to cancel.
				return false
			}
			t.core.canceled(t, prev)
			return !prev.Active()
		}
	}
}

// DelayUntilNextRun returns the time left until the task is due, expressed in
// unit u. It is zero when the task is due, in flight, finished or canceled.
func (t *Task) DelayUntilNextRun(u Unit) Span {
	rem, ok := t.core.remaining(t)
	if !ok || rem.n <= 0 {
		return Span{unit: u}
	}
	return rem.In(u, t.core.drv.tickLength())
}

// transition moves from -> to. It never leaves StateCanceled because callers
// never pass it as from.
func (t *Task) transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *Task) stamp(ticks, nanos int64) {
	t.tickStamp.Store(ticks)
	t.nanoStamp.Store(nanos)
}

// rearm re-evaluates a cron schedule relative to now.
func (t *Task) rearm(now time.Time) {
	if t.desc.cron != nil {
		t.cronWait.Store(int64(cronWait(t.desc.cron, now)))
	}
}

func (t *Task) stampFor(u Unit) int64 {
	if u == UnitTicks {
		return t.tickStamp.Load()
	}
	return t.nanoStamp.Load()
}

// TaskInfo is a point-in-time view of a task for diagnostics.
type TaskInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Owner       string        `json:"owner"`
	Domain      string        `json:"domain"`
	State       string        `json:"state"`
	Delay       string        `json:"delay"`
	Interval    string        `json:"interval"`
	Schedule    string        `json:"schedule,omitempty"`
	Runs        uint64        `json:"runs"`
	Failures    int           `json:"consecutive_failures"`
	NextRun     time.Duration `json:"next_run"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

func (t *Task) Info() TaskInfo {
	return TaskInfo{
		ID:          t.id.String(),
		Name:        t.name,
		Owner:       ownerName(t.desc.owner),
		Domain:      t.Domain().String(),
		State:       t.State().String(),
		Delay:       t.desc.delay.String(),
		Interval:    t.desc.interval.String(),
		Schedule:    t.desc.schedule,
		Runs:        t.Runs(),
		Failures:    t.ConsecutiveFailures(),
		NextRun:     t.DelayUntilNextRun(UnitWall).Duration(t.core.drv.tickLength()),
		SubmittedAt: t.submittedAt,
	}
}
