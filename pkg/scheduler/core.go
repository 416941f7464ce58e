package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tickwork/pkg/eventbus"
	logx "tickwork/pkg/logx"
	"tickwork/pkg/metrics"
)

// Event types published on the bus.
const (
	EventSubmitted = "task.submitted"
	EventStarted   = "task.started"
	EventFinished  = "task.finished"
	EventFailed    = "task.failed"
	EventCanceled  = "task.canceled"
	EventRetired   = "task.retired"
)

// TaskEvent is the payload of every task.* event.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Owner    string        `json:"owner"`
	Domain   string        `json:"domain"`
	State    string        `json:"state"`
	Started  time.Time     `json:"started,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Runs     uint64        `json:"runs"`
	Failures int           `json:"consecutive_failures"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// driver is what the core needs from the sync and async adapters.
type driver interface {
	// now returns the current tick count or monotonic nanoseconds.
	now(u Unit) int64
	tickLength() time.Duration
	// normalize maps a span onto the clock the driver measures it with.
	normalize(s Span) Span
	dispatch(t *Task, run func())
	// changed is called after a submit or cancel.
	changed()
	onTaskCompletion(t *Task)
	payloadContext() context.Context
}

// core holds the registry and the per-pass algorithm shared by both drivers.
type core struct {
	domain  Domain
	drv     driver
	reg     *registry
	hooks   Hooks
	log     logx.Logger
	metrics *metrics.Registry
	bus     eventbus.Bus
	clock   Clock

	defaultMaxFailures int
	seq                atomic.Uint64
}

func newCore(domain Domain, drv driver, o options) *core {
	return &core{
		domain:             domain,
		drv:                drv,
		reg:                newRegistry(),
		hooks:              o.hooks,
		log:                o.log.With(logx.String("comp", "scheduler"), logx.String("domain", domain.String())),
		metrics:            o.metrics,
		bus:                o.bus,
		clock:              o.clock,
		defaultMaxFailures: o.maxFailures,
	}
}

func (c *core) submit(d Descriptor) (*Task, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	seq := c.seq.Add(1)
	t := &Task{
		id:          uuid.New(),
		name:        d.name,
		desc:        d,
		core:        c,
		submittedAt: c.clock.Now(),
		maxFailures: d.maxFailures,
	}
	if t.name == "" {
		t.name = fmt.Sprintf("%s-%s-%d", ownerName(d.owner), c.domain.letter(), seq)
	}
	if t.maxFailures == 0 {
		t.maxFailures = c.defaultMaxFailures
	}
	t.state.Store(int32(StateWaiting))
	t.stamp(c.drv.now(UnitTicks), c.drv.now(UnitWall))
	t.rearm(c.clock.Now())
	for !c.reg.put(t) {
		// uuid collision; practically unreachable.
		t.id = uuid.New()
	}

	c.metrics.Submitted(c.domain.String())
	c.metrics.Registered(c.domain.String(), c.reg.len())
	c.publish(EventSubmitted, t, TaskEvent{})
	c.log.Debug("task submitted",
		logx.String("task", t.name),
		logx.String("owner", ownerName(d.owner)),
		logx.String("delay", d.delay.String()),
		logx.String("interval", d.interval.String()),
	)
	c.drv.changed()
	return t, nil
}

// threshold returns the span a task in state st is counting down.
func (c *core) threshold(t *Task, st State) (Span, bool) {
	if t.desc.cron != nil && (st == StateWaiting || st == StateRunning) {
		return Wall(time.Duration(t.cronWait.Load())), true
	}
	switch st {
	case StateWaiting:
		return c.drv.normalize(t.desc.delay), true
	case StateRunning:
		if !t.desc.IsPeriodic() {
			return Span{}, false
		}
		return c.drv.normalize(t.desc.interval), true
	default:
		return Span{}, false
	}
}

// remaining is threshold minus elapsed, in the threshold's unit. It can be
// negative when the task is overdue.
func (c *core) remaining(t *Task) (Span, bool) {
	th, ok := c.threshold(t, t.State())
	if !ok {
		return Span{}, false
	}
	elapsed := c.drv.now(th.unit) - t.stampFor(th.unit)
	return Span{n: th.n - elapsed, unit: th.unit}, true
}

// pass evaluates every registered task once. Tasks are visited in no
// particular order.
func (c *core) pass() {
	for _, t := range c.reg.snapshot() {
		c.evaluate(t)
	}
	c.metrics.Registered(c.domain.String(), c.reg.len())
}

func (c *core) evaluate(t *Task) {
	st := t.State()
	switch st {
	case StateCanceled:
		if c.reg.remove(t.id) {
			c.log.Debug("task removed", logx.String("task", t.name), logx.String("reason", "canceled"))
		}
		return
	case StateExecuting, StateSwitching:
		return
	}

	th, ok := c.threshold(t, st)
	if !ok {
		// Finished one-shot still registered; should not happen.
		c.reg.remove(t.id)
		return
	}
	if c.drv.now(th.unit)-t.stampFor(th.unit) < th.n {
		return
	}
	if !t.transition(st, StateSwitching) {
		// Canceled between the load and here; removed next pass.
		return
	}
	t.stamp(c.drv.now(UnitTicks), c.drv.now(UnitWall))
	t.rearm(c.clock.Now())
	oneShot := !t.desc.IsPeriodic()
	c.drv.dispatch(t, func() { c.execute(t) })
	if oneShot {
		c.reg.remove(t.id)
	}
}

// execute is the dispatch closure body. It runs on the ticking goroutine for
// the sync driver and on a pool worker for the async driver.
func (c *core) execute(t *Task) {
	defer c.drv.onTaskCompletion(t)
	if !t.transition(StateSwitching, StateExecuting) {
		return
	}
	release := openScope(c.log, c.hooks.Scope, t)
	defer func() {
		t.transition(StateExecuting, StateRunning)
		release()
	}()

	start := c.clock.Now()
	c.publish(EventStarted, t, TaskEvent{Started: start})

	err := c.invoke(t)
	dur := c.clock.Now().Sub(start)
	if dur < 0 {
		dur = 0
	}
	t.runs.Add(1)
	c.metrics.Executed(c.domain.String(), dur.Seconds(), err != nil)

	if err == nil {
		t.failures.Store(0)
		c.publish(EventFinished, t, TaskEvent{Started: start, Duration: dur})
		if dur >= 750*time.Millisecond {
			c.log.Info("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
		} else {
			c.log.Trace("task completed", logx.String("task", t.name), logx.Duration("dur", dur))
		}
		return
	}

	n := int(t.failures.Add(1))
	callFailure(c.log, c.hooks.Failure, t, err)
	c.publish(EventFailed, t, TaskEvent{Started: start, Duration: dur, Error: err.Error()})
	if t.maxFailures > 0 && n >= t.maxFailures {
		c.log.Warn("task retired after consecutive failures",
			logx.String("task", t.name),
			logx.Int("failures", n),
			logx.Err(err),
		)
		t.Cancel()
		c.publish(EventRetired, t, TaskEvent{Error: err.Error(), Reason: "max_consecutive_failures"})
	}
}

// invoke calls the payload, converting a panic into an error.
func (c *core) invoke(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			c.log.Error("task panicked", logx.String("task", t.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return t.desc.payload(c.drv.payloadContext(), t)
}

func (c *core) canceled(t *Task, prev State) {
	c.metrics.Canceled(c.domain.String())
	c.publish(EventCanceled, t, TaskEvent{Reason: "was_" + prev.String()})
	c.log.Debug("task canceled", logx.String("task", t.name), logx.String("prev", prev.String()))
	c.drv.changed()
}

func (c *core) publish(typ string, t *Task, ev TaskEvent) {
	if c.bus == nil {
		return
	}
	ev.ID = t.id.String()
	ev.Name = t.name
	ev.Owner = ownerName(t.desc.owner)
	ev.Domain = c.domain.String()
	ev.State = t.State().String()
	ev.Runs = t.Runs()
	ev.Failures = t.ConsecutiveFailures()
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.clock.Now(), Data: ev})
}

// ---- lookup ----

// Task returns the live task with the given id.
func (c *core) Task(id uuid.UUID) (*Task, bool) { return c.reg.get(id) }

// Tasks returns a snapshot of the live tasks, sorted by name.
func (c *core) Tasks() []*Task { return sortTasks(c.reg.snapshot()) }

// Len returns the number of registered tasks.
func (c *core) Len() int { return c.reg.len() }

// TasksByOwner returns the live tasks submitted by o.
func (c *core) TasksByOwner(o Owner) []*Task {
	return c.filter(func(t *Task) bool { return t.desc.owner == o })
}

// TasksByName returns the live tasks whose whole name matches pattern.
func (c *core) TasksByName(pattern string) ([]*Task, error) {
	re, err := compileNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	return c.filter(func(t *Task) bool { return re.MatchString(t.name) }), nil
}

func (c *core) filter(keep func(t *Task) bool) []*Task {
	var out []*Task
	for _, t := range c.reg.snapshot() {
		if keep(t) {
			out = append(out, t)
		}
	}
	return sortTasks(out)
}

func compileNamePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern %q: %w", pattern, err)
	}
	return re, nil
}

func sortTasks(ts []*Task) []*Task {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].name != ts[j].name {
			return ts[i].name < ts[j].name
		}
		return ts[i].id.String() < ts[j].id.String()
	})
	return ts
}
