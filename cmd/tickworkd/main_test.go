package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickwork/internal/storage"
	logx "tickwork/pkg/logx"
)

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tickwork.yaml")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(body, "{{dir}}", dir)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir, path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"tickworkd"}, args...))
	return out.String(), err
}

func TestCheckPrintsResolvedConfig(t *testing.T) {
	_, path := writeConfig(t, "scheduler:\n  tick_rate: 25ms\ntasks:\n  status:\n    schedule: 40t\n")

	out, err := runCLI(t, "--config", path, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"tick_rate", "25ms", "task status", "on sync", "task history.prune", "off", "metrics"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryPrintsRecentRuns(t *testing.T) {
	dir, path := writeConfig(t, "storage:\n  driver: file\n  path: {{dir}}/history\n")

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "history")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, name := range []string{"backup", "report"} {
		if err := st.AppendRun(context.Background(), storage.RunRecord{
			TaskID:  name + "-id",
			Name:    name,
			Domain:  "async",
			Outcome: storage.OutcomeOK,
			Started: time.Now(),
			Runs:    1,
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = st.Close()

	out, err := runCLI(t, "--config", path, "history", "--limit", "1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "OUTCOME") || !strings.Contains(out, "report") || strings.Contains(out, "backup") {
		t.Fatalf("unexpected table:\n%s", out)
	}

	out, err = runCLI(t, "--config", path, "history", "--json")
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d json lines:\n%s", len(lines), out)
	}
	var r storage.RunRecord
	if err := json.Unmarshal([]byte(lines[0]), &r); err != nil || r.Name != "report" {
		t.Fatalf("first line = %q (%v)", lines[0], err)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	_, path := writeConfig(t, "logging:\n  level: info\n")
	if _, err := runCLI(t, "--config", path, "history"); err == nil {
		t.Fatalf("expected error when storage is disabled")
	}
}
