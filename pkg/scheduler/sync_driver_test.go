package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tickwork/internal/testutil"
	"tickwork/pkg/eventbus"
)

func TestSyncOneShotZeroDelayRunsOnce(t *testing.T) {
	d := NewSyncDriver()
	var n atomic.Int64
	task, err := d.Submit(mustBuild(t, NewBuilder().Payload(counting(&n))))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n.Load() != 0 {
		t.Fatalf("payload ran before the first tick")
	}

	d.Tick()
	if n.Load() != 1 {
		t.Fatalf("runs=%d want 1", n.Load())
	}
	if _, ok := d.Task(task.ID()); ok {
		t.Fatalf("one-shot task still registered")
	}
	for i := 0; i < 10; i++ {
		d.Tick()
	}
	if n.Load() != 1 {
		t.Fatalf("runs=%d after extra ticks, want 1", n.Load())
	}
	if task.State() != StateRunning {
		t.Fatalf("state=%v want running", task.State())
	}
}

func TestSyncPeriodicDelayAndInterval(t *testing.T) {
	d := NewSyncDriver()
	var n atomic.Int64
	_, err := d.Submit(mustBuild(t, NewBuilder().Payload(counting(&n)).DelayTicks(5).IntervalTicks(10)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 1; i <= 4; i++ {
		d.Tick()
		if n.Load() != 0 {
			t.Fatalf("ran early at tick %d", i)
		}
	}
	d.Tick()
	if n.Load() != 1 {
		t.Fatalf("runs=%d after 5 ticks, want 1", n.Load())
	}

	// Re-arms from the dispatch stamp: next runs at ticks 15 and 25.
	want := map[int64]int64{14: 1, 15: 2, 24: 2, 25: 3}
	for d.CurrentTick() < 25 {
		d.Tick()
		if w, ok := want[d.CurrentTick()]; ok && n.Load() != w {
			t.Fatalf("tick %d: runs=%d want %d", d.CurrentTick(), n.Load(), w)
		}
	}
}

func TestSyncCancelBeforeDue(t *testing.T) {
	d := NewSyncDriver()
	var n atomic.Int64
	task, _ := d.Submit(mustBuild(t, NewBuilder().Payload(counting(&n)).DelayTicks(3)))

	d.Tick()
	if !task.Cancel() {
		t.Fatalf("cancel of a waiting task should report true")
	}
	if !task.IsCancelled() {
		t.Fatalf("IsCancelled=false")
	}
	for i := 0; i < 10; i++ {
		d.Tick()
	}
	if n.Load() != 0 {
		t.Fatalf("canceled payload ran %d times", n.Load())
	}
	if d.Len() != 0 {
		t.Fatalf("canceled task not removed")
	}
}

func TestSyncCancelIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventCanceled)
	defer unsub()

	d := NewSyncDriver(WithEventBus(bus))
	task, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).DelayTicks(5)))

	first, second := task.Cancel(), task.Cancel()
	if first != second {
		t.Fatalf("cancel results differ: %v then %v", first, second)
	}
	d.Tick()
	d.Tick()
	if task.State() != StateCanceled {
		t.Fatalf("state=%v", task.State())
	}

	got := 0
	for {
		select {
		case <-events:
			got++
			continue
		default:
		}
		break
	}
	if got != 1 {
		t.Fatalf("canceled events=%d want 1", got)
	}
}

func TestSyncCancelWhileExecuting(t *testing.T) {
	d := NewSyncDriver()
	var result atomic.Bool
	var n atomic.Int64
	task, _ := d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).Payload(func(_ context.Context, self *Task) error {
		n.Add(1)
		if self.State() != StateExecuting {
			t.Errorf("state inside payload=%v", self.State())
		}
		result.Store(self.Cancel())
		return nil
	})))

	d.Tick()
	if result.Load() {
		t.Fatalf("cancel from inside the payload should report false")
	}
	if task.State() != StateCanceled {
		t.Fatalf("completion overwrote CANCELED: %v", task.State())
	}
	d.Tick()
	d.Tick()
	if n.Load() != 1 {
		t.Fatalf("runs=%d want 1", n.Load())
	}
	if d.Len() != 0 {
		t.Fatalf("task not removed")
	}
}

func TestSyncCancelAfterRunReportsFalse(t *testing.T) {
	d := NewSyncDriver()
	task, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).IntervalTicks(5)))
	d.Tick()
	if task.State() != StateRunning {
		t.Fatalf("state=%v", task.State())
	}
	if task.Cancel() {
		t.Fatalf("cancel of a running task should report false")
	}
}

func TestSyncPanicAndErrorsGoToFailureHook(t *testing.T) {
	var failures []error
	d := NewSyncDriver(WithFailureHook(func(_ *Task, err error) { failures = append(failures, err) }))

	var n atomic.Int64
	_, _ = d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).Payload(func(context.Context, *Task) error {
		if n.Add(1)%2 == 1 {
			panic("boom")
		}
		return errors.New("plain failure")
	})))

	for i := 0; i < 4; i++ {
		d.Tick()
	}
	if n.Load() != 4 {
		t.Fatalf("runs=%d want 4 (failures must not stop a periodic task)", n.Load())
	}
	if len(failures) != 4 {
		t.Fatalf("failures=%d want 4", len(failures))
	}
	if !errors.Is(failures[0], ErrPanic) {
		t.Fatalf("first failure=%v want ErrPanic", failures[0])
	}
	if errors.Is(failures[1], ErrPanic) {
		t.Fatalf("second failure should be the returned error")
	}
}

func TestSyncPanickingFailureHookIsContained(t *testing.T) {
	d := NewSyncDriver(WithFailureHook(func(*Task, error) { panic("hook") }))
	var n atomic.Int64
	_, _ = d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).Payload(func(context.Context, *Task) error {
		n.Add(1)
		return errors.New("x")
	})))
	d.Tick()
	d.Tick()
	if n.Load() != 2 {
		t.Fatalf("runs=%d want 2", n.Load())
	}
}

func TestSyncMaxConsecutiveFailures(t *testing.T) {
	d := NewSyncDriver(WithFailureHook(func(*Task, error) {}))
	var n atomic.Int64
	task, _ := d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).MaxConsecutiveFailures(3).Payload(func(context.Context, *Task) error {
		n.Add(1)
		return errors.New("always")
	})))
	for i := 0; i < 10; i++ {
		d.Tick()
	}
	if n.Load() != 3 {
		t.Fatalf("runs=%d want 3", n.Load())
	}
	if !task.IsCancelled() {
		t.Fatalf("task should be canceled after 3 failures")
	}
}

func TestSyncDefaultMaxFailuresAndReset(t *testing.T) {
	d := NewSyncDriver(WithFailureHook(func(*Task, error) {}), WithDefaultMaxFailures(2))
	var n atomic.Int64
	task, _ := d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).Payload(func(context.Context, *Task) error {
		// fail, succeed, fail, fail
		switch n.Add(1) {
		case 2:
			return nil
		default:
			return errors.New("x")
		}
	})))
	for i := 0; i < 8; i++ {
		d.Tick()
	}
	if n.Load() != 4 {
		t.Fatalf("runs=%d want 4 (success resets the streak)", n.Load())
	}
	if !task.IsCancelled() {
		t.Fatalf("expected cancellation")
	}
}

func TestSyncWallSpanUsesClock(t *testing.T) {
	clock := testutil.NewMockClock(time.Time{})
	d := NewSyncDriver(WithClock(clock))
	var n atomic.Int64
	_, _ = d.Submit(mustBuild(t, NewBuilder().Payload(counting(&n)).DelayWall(100*time.Millisecond)))

	for i := 0; i < 20; i++ {
		d.Tick()
	}
	if n.Load() != 0 {
		t.Fatalf("wall-delayed task ran on ticks alone")
	}
	clock.Advance(100 * time.Millisecond)
	d.Tick()
	if n.Load() != 1 {
		t.Fatalf("runs=%d want 1", n.Load())
	}
}

func TestSyncScopeHookWrapsPayload(t *testing.T) {
	var opened, released atomic.Int64
	d := NewSyncDriver(WithScopeHook(func(*Task) func() {
		opened.Add(1)
		return func() { released.Add(1) }
	}))
	_, _ = d.Submit(mustBuild(t, NewBuilder().IntervalTicks(1).Payload(func(context.Context, *Task) error {
		if opened.Load() != released.Load()+1 {
			t.Errorf("payload ran outside its scope")
		}
		panic("still released")
	})))
	d.Tick()
	d.Tick()
	if opened.Load() != 2 || released.Load() != 2 {
		t.Fatalf("opened=%d released=%d", opened.Load(), released.Load())
	}
}

func TestSyncSubmitFromPayload(t *testing.T) {
	d := NewSyncDriver()
	var inner atomic.Int64
	_, _ = d.Submit(mustBuild(t, NewBuilder().Payload(func(context.Context, *Task) error {
		_, err := d.Submit(mustBuild(t, NewBuilder().Payload(counting(&inner))))
		return err
	})))
	d.Tick()
	d.Tick()
	if inner.Load() != 1 {
		t.Fatalf("inner runs=%d want 1", inner.Load())
	}
}

func TestSyncDelayUntilNextRun(t *testing.T) {
	d := NewSyncDriver(WithTickLength(50 * time.Millisecond))
	task, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).DelayTicks(5).IntervalTicks(4)))
	d.Tick()
	d.Tick()
	if got := task.DelayUntilNextRun(UnitTicks); got != Ticks(3) {
		t.Fatalf("remaining=%v want 3t", got)
	}
	if got := task.DelayUntilNextRun(UnitWall); got != Wall(150*time.Millisecond) {
		t.Fatalf("remaining=%v want 150ms", got)
	}
	for i := 0; i < 3; i++ {
		d.Tick()
	}
	if got := task.DelayUntilNextRun(UnitTicks); got != Ticks(4) {
		t.Fatalf("after run remaining=%v want 4t", got)
	}
	task.Cancel()
	if got := task.DelayUntilNextRun(UnitTicks); !got.IsZero() {
		t.Fatalf("canceled remaining=%v want 0", got)
	}
}

func TestSyncAutoName(t *testing.T) {
	d := NewSyncDriver()
	a, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).Owner(NamedOwner("plug"))))
	b, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).Owner(NamedOwner("plug"))))
	if a.Name() != "plug-S-1" || b.Name() != "plug-S-2" {
		t.Fatalf("names=%q,%q", a.Name(), b.Name())
	}
	c, _ := d.Submit(mustBuild(t, NewBuilder().Payload(noop).Name("explicit")))
	if c.Name() != "explicit" {
		t.Fatalf("name=%q", c.Name())
	}
}

func TestSyncPayloadGetsConfiguredContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	d := NewSyncDriver(WithContext(ctx))
	var got atomic.Value
	_, _ = d.Submit(mustBuild(t, NewBuilder().Payload(func(ctx context.Context, _ *Task) error {
		got.Store(ctx.Value(key{}))
		return nil
	})))
	d.Tick()
	if got.Load() != "v" {
		t.Fatalf("payload ctx value=%v", got.Load())
	}
}
