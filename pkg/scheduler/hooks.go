package scheduler

import (
	"fmt"
	"runtime/debug"

	logx "tickwork/pkg/logx"
)

// Owner identifies the component that submitted a task. Owners are compared
// with ==, so use pointer or comparable value types.
type Owner interface {
	Name() string
}

// NamedOwner is the simplest Owner: a plain name.
type NamedOwner string

func (o NamedOwner) Name() string { return string(o) }

// ScopeHook opens a diagnostic scope around one payload invocation. The
// returned release func (may be nil) runs after the payload returns or panics.
type ScopeHook func(t *Task) (release func())

// FailureHook receives payload errors and recovered panics.
type FailureHook func(t *Task, err error)

// Hooks groups the optional callbacks shared by both drivers.
type Hooks struct {
	Scope   ScopeHook
	Failure FailureHook
}

// DefaultFailureHook logs failures, at most perSec times per second per task.
func DefaultFailureHook(log logx.Logger, perSec float64) FailureHook {
	th := logx.NewThrottle(perSec, 1)
	return func(t *Task, err error) {
		if !th.Allow(t.ID().String()) {
			return
		}
		log.Warn("task failed",
			logx.String("task", t.Name()),
			logx.String("owner", ownerName(t.Owner())),
			logx.String("domain", t.Domain().String()),
			logx.Int("consecutive_failures", t.ConsecutiveFailures()),
			logx.Err(err),
		)
	}
}

func ownerName(o Owner) string {
	if o == nil {
		return ""
	}
	return o.Name()
}

// callFailure runs the failure hook; a panicking hook is logged and swallowed.
func callFailure(log logx.Logger, h FailureHook, t *Task, err error) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("failure hook panicked", logx.String("task", t.Name()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	h(t, err)
}

// openScope opens the diagnostic scope, never returning a nil release func.
func openScope(log logx.Logger, h ScopeHook, t *Task) (release func()) {
	release = func() {}
	if h == nil {
		return release
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("scope hook panicked", logx.String("task", t.Name()), logx.Any("panic", r))
		}
	}()
	if rel := h(t); rel != nil {
		release = func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("scope release panicked", logx.String("task", t.Name()), logx.Any("panic", r))
				}
			}()
			rel()
		}
	}
	return release
}

func panicError(r any) error {
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
