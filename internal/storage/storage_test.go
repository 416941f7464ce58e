package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "tickwork/pkg/logx"

	"github.com/spf13/afero"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	fileSt, err := OpenFs(afero.NewMemMapFs(), Config{Driver: "file", Path: "/var/lib/tickwork/history"}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sqliteSt, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "tickwork.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	stores := map[string]Store{"file": fileSt, "sqlite": sqliteSt}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func record(i int) RunRecord {
	return RunRecord{
		TaskID:   fmt.Sprintf("id-%d", i),
		Name:     fmt.Sprintf("task-%d", i),
		Owner:    "tests",
		Domain:   "async",
		Outcome:  OutcomeOK,
		Started:  time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Duration: time.Duration(i) * time.Millisecond,
		Runs:     uint64(i),
	}
}

func TestStoreAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 5; i++ {
				r := record(i)
				if i == 3 {
					r.Outcome = OutcomeFailed
					r.Error = "boom"
					r.Failures = 1
				}
				if err := s.AppendRun(ctx, r); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			got, err := s.RecentRuns(ctx, 3)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("got %d records, want 3", len(got))
			}
			if got[0].Name != "task-5" || got[2].Name != "task-3" {
				t.Fatalf("order = %s, %s, %s", got[0].Name, got[1].Name, got[2].Name)
			}
			if got[0].Seq <= got[1].Seq {
				t.Fatalf("seq should decrease: %d, %d", got[0].Seq, got[1].Seq)
			}
			failed := got[2]
			if failed.Outcome != OutcomeFailed || failed.Error != "boom" || failed.Failures != 1 {
				t.Fatalf("failed record = %+v", failed)
			}
			if !failed.Started.Equal(record(3).Started) || failed.Duration != 3*time.Millisecond || failed.Runs != 3 {
				t.Fatalf("failed record fields = %+v", failed)
			}

			all, err := s.RecentRuns(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("recent(100) = %d, %v", len(all), err)
			}
		})
	}
}

func TestStorePrune(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 1; i <= 10; i++ {
				if err := s.AppendRun(ctx, record(i)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			removed, err := s.Prune(ctx, 4)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if removed != 6 {
				t.Fatalf("removed = %d, want 6", removed)
			}
			if removed, _ := s.Prune(ctx, 4); removed != 0 {
				t.Fatalf("second prune removed %d", removed)
			}

			// Appends keep working after the rewrite.
			if err := s.AppendRun(ctx, record(11)); err != nil {
				t.Fatalf("append after prune: %v", err)
			}
			got, err := s.RecentRuns(ctx, 100)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) != 5 || got[0].Name != "task-11" || got[4].Name != "task-7" {
				t.Fatalf("after prune: %d records, newest %q", len(got), got[0].Name)
			}
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/data/history.json"}

	s, err := OpenFs(fs, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := s.AppendRun(ctx, record(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/data/history.runs.jsonl"); !ok {
		t.Fatalf("runs file missing")
	}

	// Corrupt lines are skipped.
	f, err := fs.OpenFile("/data/history.runs.jsonl", os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, _ = f.Write([]byte("{\"task_id\":\"x\",\"na\n"))
	_ = f.Close()

	s, err = OpenFs(fs, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.AppendRun(ctx, record(4)); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 || got[0].Seq != 4 {
		t.Fatalf("got %d records, newest seq %d", len(got), got[0].Seq)
	}
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("open none: %v", err)
	}
	if err := s.AppendRun(context.Background(), record(1)); err != nil {
		t.Fatalf("none append: %v", err)
	}
	if _, err := s.RecentRuns(context.Background(), 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("none recent err = %v", err)
	}

	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := OpenFs(afero.NewMemMapFs(), Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("file driver without path should fail")
	}
}
