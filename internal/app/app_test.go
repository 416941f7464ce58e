package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickwork/internal/config"
	"tickwork/internal/storage"
	"tickwork/internal/testutil"
	"tickwork/pkg/scheduler"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testConfig = `
logging:
  level: error
scheduler:
  tick_rate: 5ms
  tick_length: 5ms
storage:
  driver: file
  path: {{dir}}/history
  keep: 3
metrics:
  enabled: true
  addr: 127.0.0.1:0
tasks:
  status:
    schedule: 2t
  history_prune:
    schedule: 20ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tickwork.yaml")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(body, "{{dir}}", dir)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T, body string) *App {
	t.Helper()
	a, err := New(writeConfig(t, body))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestAppRunsHousekeepingAndRecordsHistory(t *testing.T) {
	a := startApp(t, testConfig)

	tasks := a.HousekeepingTasks()
	if len(tasks) != 2 || tasks[0].Name() != config.TaskPrune || tasks[1].Name() != config.TaskStatus {
		t.Fatalf("housekeeping = %v", tasks)
	}
	if tasks[1].Domain() != scheduler.DomainSync || tasks[0].Domain() != scheduler.DomainAsync {
		t.Fatalf("domains = %v, %v", tasks[0].Domain(), tasks[1].Domain())
	}

	ctx := context.Background()
	testutil.Eventually(t, 5*time.Second, func() bool {
		runs, err := a.Store().RecentRuns(ctx, 10)
		if err != nil {
			return false
		}
		var status, prune bool
		for _, r := range runs {
			if r.Outcome != storage.OutcomeOK || r.Owner != HousekeepingOwner.Name() {
				continue
			}
			switch r.Name {
			case config.TaskStatus:
				status = r.Domain == scheduler.DomainSync.String()
			case config.TaskPrune:
				prune = r.Domain == scheduler.DomainAsync.String()
			}
		}
		return status && prune
	}, "status and history.prune runs were not recorded")

	// Prune keeps the history bounded by storage.keep.
	testutil.Eventually(t, 5*time.Second, func() bool {
		runs, err := a.Store().RecentRuns(ctx, 100)
		return err == nil && len(runs) <= 8
	}, "history was not pruned")

	if snap := a.Scheduler().Snapshot(false); snap.Tick == 0 {
		t.Fatalf("tick loop did not advance the sync domain")
	}

	families, err := a.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var ticks bool
	for _, f := range families {
		if f.GetName() == "tickwork_loop_ticks_total" {
			ticks = true
		}
	}
	if !ticks {
		t.Fatalf("tickwork_loop_ticks_total not registered")
	}
	if a.promsrv == nil || a.promsrv.Addr() == "" {
		t.Fatalf("metrics endpoint not listening")
	}

	var watching bool
	for _, g := range a.sup.Snapshot().Goroutines {
		if g.Name == "config.watch" && g.Active == 1 && g.Restarts == 0 {
			watching = true
		}
	}
	if !watching {
		t.Fatalf("config watcher not running under the supervisor: %+v", a.sup.Snapshot().Goroutines)
	}
}

func TestAppReloadReplacesHousekeeping(t *testing.T) {
	a := startApp(t, testConfig)

	before := a.HousekeepingTasks()
	oldCfg := a.cfgm.Get()

	newCfg := *oldCfg
	newCfg.Tasks.Status.Schedule = "4t"
	off := false
	newCfg.Tasks.Prune.Enabled = &off
	a.applyConfig(oldCfg, &newCfg)

	after := a.HousekeepingTasks()
	if len(after) != 1 || after[0].Name() != config.TaskStatus {
		t.Fatalf("housekeeping after reload = %v", after)
	}
	if !after[0].Descriptor().Interval().Equal(scheduler.Ticks(4)) {
		t.Fatalf("status interval = %v", after[0].Descriptor().Interval())
	}
	for _, old := range before {
		if !old.IsCancelled() {
			t.Fatalf("%s was not canceled on reload", old.Name())
		}
	}
}

func TestAppReloadIgnoresUnchangedConfig(t *testing.T) {
	a := startApp(t, testConfig)

	before := a.HousekeepingTasks()
	cfg := a.cfgm.Get()
	a.applyConfig(cfg, cfg)
	after := a.HousekeepingTasks()
	if len(after) != len(before) {
		t.Fatalf("task count changed: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i] != before[i] {
			t.Fatalf("%s was resubmitted", after[i].Name())
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(writeConfig(t, "scheduler:\n  tick_rate: soon\n")); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestRunRecord(t *testing.T) {
	ev := scheduler.TaskEvent{
		ID:       "0b5c",
		Name:     "reindex",
		Owner:    "jobs",
		Domain:   "async",
		Started:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration: 40 * time.Millisecond,
		Runs:     7,
		Failures: 2,
		Error:    "disk full",
	}
	cases := []struct {
		typ  string
		want string
	}{
		{scheduler.EventFinished, storage.OutcomeOK},
		{scheduler.EventFailed, storage.OutcomeFailed},
		{scheduler.EventRetired, storage.OutcomeRetired},
	}
	for _, tc := range cases {
		t.Run(tc.typ, func(t *testing.T) {
			r := runRecord(tc.typ, ev)
			if r.Outcome != tc.want {
				t.Fatalf("outcome = %q, want %q", r.Outcome, tc.want)
			}
			if r.TaskID != ev.ID || r.Name != ev.Name || r.Owner != ev.Owner || r.Domain != ev.Domain {
				t.Fatalf("identity = %+v", r)
			}
			if !r.Started.Equal(ev.Started) || r.Duration != ev.Duration || r.Runs != 7 || r.Failures != 2 || r.Error != "disk full" {
				t.Fatalf("fields = %+v", r)
			}
		})
	}
}
