package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tickwork/internal/config"
	logx "tickwork/pkg/logx"
	"tickwork/pkg/scheduler"
	"tickwork/pkg/systemd"
)

// HousekeepingOwner owns the daemon's built-in tasks.
const HousekeepingOwner = scheduler.NamedOwner("tickworkd")

// applyHousekeeping cancels the current housekeeping tasks and submits the
// enabled ones from rt.
func (a *App) applyHousekeeping(rt *config.Runtime) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for name, t := range a.housekeeping {
		t.Cancel()
		delete(a.housekeeping, name)
	}

	for _, tr := range rt.Tasks {
		if !tr.Enabled {
			continue
		}
		payload := a.housekeepingPayload(tr.Name)
		if payload == nil {
			continue
		}
		if tr.Name == config.TaskPrune && !a.hasStore {
			a.log.Debug("history.prune skipped: no run history store")
			continue
		}

		b := scheduler.NewBuilder().
			Owner(HousekeepingOwner).
			Name(tr.Name).
			Payload(payload).
			Schedule(tr.Raw)
		if tr.Name == config.TaskWatchdog {
			// Ping at least twice per WatchdogSec.
			if wd, ok := systemd.WatchdogInterval(); ok && wd/2 < tr.Schedule.Interval.Duration(rt.TickLength) {
				b.DelayWall(wd / 2).IntervalWall(wd / 2)
			}
		}
		d, err := b.Build()
		if err != nil {
			return fmt.Errorf("housekeeping %s: %w", tr.Name, err)
		}
		t, err := a.sched.Submit(tr.Domain, d)
		if err != nil {
			return fmt.Errorf("housekeeping %s: %w", tr.Name, err)
		}
		a.housekeeping[tr.Name] = t
		a.log.Debug("housekeeping task registered",
			logx.String("task", tr.Name),
			logx.String("domain", tr.Domain.String()),
			logx.String("interval", d.Interval().String()),
		)
	}
	return nil
}

// HousekeepingTasks returns the registered housekeeping tasks sorted by name.
func (a *App) HousekeepingTasks() []*scheduler.Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*scheduler.Task, 0, len(a.housekeeping))
	for _, t := range a.housekeeping {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (a *App) housekeepingPayload(name string) scheduler.Payload {
	switch name {
	case config.TaskStatus:
		return a.statusTask
	case config.TaskPrune:
		return a.pruneTask
	case config.TaskWatchdog:
		return a.watchdogTask
	default:
		return nil
	}
}

// statusTask logs a one-line summary of both domains and mirrors it to the
// systemd status line.
func (a *App) statusTask(_ context.Context, _ *scheduler.Task) error {
	snap := a.sched.Snapshot(false)
	var restarts uint64
	for _, g := range a.sup.Snapshot().Goroutines {
		restarts += g.Restarts
	}
	a.log.Info("scheduler status",
		logx.Int64("tick", snap.Tick),
		logx.Int("sync_tasks", snap.Sync),
		logx.Int("async_tasks", snap.Async.Registered),
		logx.Int("workers", snap.Async.Pool.Workers),
		logx.Int("idle_workers", snap.Async.Pool.Idle),
		logx.Int("backlog", snap.Async.Pool.Backlog),
		logx.Duration("min_wait", snap.Async.MinWait),
		logx.Uint64("events_dropped", a.bus.Dropped()),
		logx.Int64("goroutines", a.sup.Counters().Active),
		logx.Uint64("restarts", restarts),
	)
	a.sd.Status(fmt.Sprintf("tick %d, %d sync / %d async tasks", snap.Tick, snap.Sync, snap.Async.Registered))
	return nil
}

func (a *App) pruneTask(ctx context.Context, _ *scheduler.Task) error {
	a.mu.Lock()
	keep := a.rt.Storage.Keep
	a.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	removed, err := a.store.Prune(pctx, keep)
	if err != nil {
		return fmt.Errorf("prune run history: %w", err)
	}
	if removed > 0 {
		a.log.Info("run history pruned", logx.Int("removed", removed), logx.Int("keep", keep))
	}
	return nil
}

func (a *App) watchdogTask(context.Context, *scheduler.Task) error {
	if !a.sd.Watchdog() {
		a.log.Debug("watchdog ping not delivered")
	}
	return nil
}
