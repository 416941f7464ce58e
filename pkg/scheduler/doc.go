// Package scheduler runs delayed and periodic tasks in two domains.
//
// The sync domain is driven by the host: every call to SyncDriver.Tick runs one
// pass over the registered tasks and executes due payloads inline. The async
// domain is driven by wall-clock time: AsyncDriver owns a loop goroutine that
// sleeps until the nearest deadline (or until something changes) and hands due
// payloads to an elastic worker pool.
//
// Both drivers share the same per-task state machine and the same pass:
//
//	WAITING   --(due)--> SWITCHING --> EXECUTING --> RUNNING
//	RUNNING   --(due, periodic)--> SWITCHING --> EXECUTING --> RUNNING
//	any state --(Cancel)--> CANCELED (terminal, removed on the next pass)
//
// A one-shot task (zero interval) is removed from its registry as soon as it is
// dispatched. A task never has more than one payload invocation in flight.
package scheduler
