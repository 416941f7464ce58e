package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tickwork/internal/testutil"
	logx "tickwork/pkg/logx"
)

func closePool(t *testing.T, p *pool) {
	t.Helper()
	p.close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.wait(ctx); err != nil {
		t.Fatalf("pool wait: %v", err)
	}
}

func TestPoolReusesIdleWorker(t *testing.T) {
	p := newPool(logx.Nop(), nil, time.Minute, 0)
	defer closePool(t, p)

	done := make(chan struct{})
	if err := p.submit(func() { close(done) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-done
	testutil.Eventually(t, time.Second, func() bool { return p.snapshot().Idle == 1 }, "worker should go idle")

	done2 := make(chan struct{})
	_ = p.submit(func() { close(done2) })
	<-done2
	if w := p.snapshot().Workers; w != 1 {
		t.Fatalf("workers=%d want 1 (idle worker reused)", w)
	}
}

func TestPoolGrowsForConcurrentJobs(t *testing.T) {
	p := newPool(logx.Nop(), nil, time.Minute, 0)
	defer closePool(t, p)

	release := make(chan struct{})
	var running atomic.Int64
	for i := 0; i < 4; i++ {
		_ = p.submit(func() {
			running.Add(1)
			<-release
		})
	}
	testutil.Eventually(t, time.Second, func() bool { return running.Load() == 4 }, "all jobs should run concurrently")
	close(release)
}

func TestPoolIdleWorkersExit(t *testing.T) {
	p := newPool(logx.Nop(), nil, 10*time.Millisecond, 0)
	defer closePool(t, p)
	_ = p.submit(func() {})
	testutil.Eventually(t, time.Second, func() bool { return p.snapshot().Workers == 0 }, "idle worker should exit")
}

func TestPoolCapQueuesBacklog(t *testing.T) {
	p := newPool(logx.Nop(), nil, time.Minute, 1)
	defer closePool(t, p)

	release := make(chan struct{})
	var done atomic.Int64
	_ = p.submit(func() { <-release; done.Add(1) })
	for i := 0; i < 3; i++ {
		_ = p.submit(func() { done.Add(1) })
	}
	if s := p.snapshot(); s.Workers != 1 || s.Backlog != 3 {
		t.Fatalf("snapshot=%+v want 1 worker, 3 queued", s)
	}
	close(release)
	testutil.Eventually(t, time.Second, func() bool { return done.Load() == 4 }, "backlog should drain")
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	p := newPool(logx.Nop(), nil, time.Minute, 1)
	defer closePool(t, p)
	_ = p.submit(func() { panic("job") })
	done := make(chan struct{})
	_ = p.submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("pool stopped after a panic")
	}
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p := newPool(logx.Nop(), nil, time.Minute, 0)
	closePool(t, p)
	if err := p.submit(func() {}); err != ErrShutdown {
		t.Fatalf("err=%v want ErrShutdown", err)
	}
}
