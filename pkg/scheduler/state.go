package scheduler

// State is the lifecycle state of a scheduled task.
type State int32

const (
	// StateWaiting: never executed, counting down the initial delay.
	StateWaiting State = iota
	// StateSwitching: selected for execution and handed to the driver, payload not started yet.
	StateSwitching
	// StateRunning: executed at least once; periodic tasks count down the interval here.
	StateRunning
	// StateExecuting: payload invocation in progress.
	StateExecuting
	// StateCanceled is terminal.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateSwitching:
		return "switching"
	case StateRunning:
		return "running"
	case StateExecuting:
		return "executing"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Active reports whether the task has started running at least once or is
// running right now. Cancel returns false for active tasks.
func (s State) Active() bool { return s == StateRunning || s == StateExecuting }

// inFlight reports whether an invocation is queued or running.
func (s State) inFlight() bool { return s == StateSwitching || s == StateExecuting }
