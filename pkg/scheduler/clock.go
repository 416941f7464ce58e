package scheduler

import "time"

// Clock is the wall-clock source used by the drivers. Tests substitute a
// manually advanced clock.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }

// monoClock measures nanoseconds elapsed since its epoch. Subtracting two
// time.Time values keeps the monotonic reading of the real clock.
type monoClock struct {
	clock Clock
	epoch time.Time
}

func newMonoClock(c Clock) monoClock {
	if c == nil {
		c = SystemClock()
	}
	return monoClock{clock: c, epoch: c.Now()}
}

func (m monoClock) nanos() int64 { return int64(m.clock.Now().Sub(m.epoch)) }
