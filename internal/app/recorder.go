package app

import (
	"context"
	"time"

	"tickwork/internal/storage"
	"tickwork/pkg/eventbus"
	logx "tickwork/pkg/logx"
	"tickwork/pkg/scheduler"
)

const recorderBuffer = 1024

// startRecorder subscribes to task outcome events and appends one RunRecord
// per event to the store. It runs until stopRecorder.
func (a *App) startRecorder() {
	events, unsub := a.bus.Subscribe(recorderBuffer,
		scheduler.EventFinished,
		scheduler.EventFailed,
		scheduler.EventRetired,
	)
	done := make(chan struct{})
	a.stopRec = unsub
	a.recorded = done

	go func() {
		defer close(done)
		for e := range events {
			a.record(e)
		}
	}()
}

// stopRecorder closes the subscription and waits for buffered events to be
// written.
func (a *App) stopRecorder(ctx context.Context) {
	if a.stopRec == nil {
		return
	}
	a.stopRec()
	select {
	case <-a.recorded:
	case <-ctx.Done():
		a.log.Warn("run history recorder did not drain in time")
	}
}

func (a *App) record(e eventbus.Event) {
	ev, ok := e.Data.(scheduler.TaskEvent)
	if !ok {
		return
	}
	r := runRecord(e.Type, ev)
	if r.Started.IsZero() {
		r.Started = e.Time
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(ctx, r); err != nil && a.warn.Allow("history.append") {
		a.log.Warn("run history append failed", logx.String("task", ev.Name), logx.Err(err))
	}
}

func runRecord(typ string, ev scheduler.TaskEvent) storage.RunRecord {
	r := storage.RunRecord{
		TaskID:   ev.ID,
		Name:     ev.Name,
		Owner:    ev.Owner,
		Domain:   ev.Domain,
		Outcome:  storage.OutcomeOK,
		Error:    ev.Error,
		Started:  ev.Started,
		Duration: ev.Duration,
		Runs:     ev.Runs,
		Failures: ev.Failures,
	}
	switch typ {
	case scheduler.EventFailed:
		r.Outcome = storage.OutcomeFailed
	case scheduler.EventRetired:
		r.Outcome = storage.OutcomeRetired
	}
	return r
}
