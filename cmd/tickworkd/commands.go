package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"tickwork/internal/app"
	"tickwork/internal/config"
	"tickwork/internal/storage"
	logx "tickwork/pkg/logx"

	"github.com/urfave/cli"
)

const stopTimeout = 10 * time.Second

func configPath(c *cli.Context) string {
	if p := c.GlobalString("config"); p != "" {
		return p
	}
	return c.String("config")
}

func run(c *cli.Context) error {
	a, err := app.New(configPath(c))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stopCancel()
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return nil
}

func check(c *cli.Context) error {
	m := config.NewManager(configPath(c))
	cfg, err := m.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	printRuntime(c.App.Writer, m.Path(), rt)
	return nil
}

func printRuntime(w io.Writer, path string, rt *config.Runtime) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "config\t%s\n", path)
	fmt.Fprintf(tw, "tick_rate\t%s\n", rt.TickRate)
	fmt.Fprintf(tw, "tick_length\t%s\n", rt.TickLength)
	fmt.Fprintf(tw, "max_consecutive_failures\t%d\n", rt.MaxFailures)
	fmt.Fprintf(tw, "async.idle_worker_timeout\t%s\n", rt.IdleWorkerTimeout)
	fmt.Fprintf(tw, "async.max_workers\t%d\n", rt.MaxWorkers)
	fmt.Fprintf(tw, "storage\t%s %s\n", rt.Storage.Driver, rt.Storage.Path)
	if rt.Metrics.Enabled {
		fmt.Fprintf(tw, "metrics\thttp://%s%s\n", rt.Metrics.Addr, rt.Metrics.Path)
	} else {
		fmt.Fprintf(tw, "metrics\toff\n")
	}
	for _, t := range rt.Tasks {
		state := "off"
		if t.Enabled {
			state = "on"
		}
		fmt.Fprintf(tw, "task %s\t%s %s every %s\n", t.Name, state, t.Domain, t.Schedule.Interval)
	}
	_ = tw.Flush()
}

func history(c *cli.Context) error {
	m := config.NewManager(configPath(c))
	cfg, err := m.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	st, err := storage.Open(storage.Config{
		Driver:      rt.Storage.Driver,
		Path:        rt.Storage.Path,
		BusyTimeout: rt.Storage.BusyTimeout,
	}, logx.Nop())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runs, err := st.RecentRuns(ctx, c.Int("limit"))
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("run history is disabled (storage.driver is none)")
	}
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if c.Bool("json") {
		return printRunsJSON(c.App.Writer, runs)
	}
	printRuns(c.App.Writer, runs)
	return nil
}

func printRunsJSON(w io.Writer, runs []storage.RunRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func printRuns(w io.Writer, runs []storage.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTARTED\tDOMAIN\tNAME\tOUTCOME\tDURATION\tRUNS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Seq,
			r.Started.Local().Format(time.DateTime),
			r.Domain,
			r.Name,
			r.Outcome,
			r.Duration.Round(time.Microsecond),
			r.Runs,
			r.Error,
		)
	}
	_ = tw.Flush()
}
