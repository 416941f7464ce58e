package systemd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	logx "tickwork/pkg/logx"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

func TestNotifierSends(t *testing.T) {
	conn := listenNotify(t)
	n := New(true, logx.Nop())

	if !n.Ready() {
		t.Fatalf("Ready not sent")
	}
	if got := read(t, conn); got != "READY=1" {
		t.Fatalf("got %q", got)
	}
	if !n.Watchdog() {
		t.Fatalf("Watchdog not sent")
	}
	if got := read(t, conn); got != "WATCHDOG=1" {
		t.Fatalf("got %q", got)
	}
	n.Status("3 tasks")
	if got := read(t, conn); got != "STATUS=3 tasks" {
		t.Fatalf("got %q", got)
	}
}

func TestNotifierDisabled(t *testing.T) {
	listenNotify(t)
	var nilNotifier *Notifier
	for _, n := range []*Notifier{New(false, logx.Nop()), nilNotifier} {
		if n.Ready() || n.Stopping() {
			t.Fatalf("disabled notifier must not send")
		}
	}
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if New(true, logx.Nop()).Ready() {
		t.Fatalf("nothing to send to without NOTIFY_SOCKET")
	}
	t.Setenv("WATCHDOG_USEC", "")
	if _, ok := WatchdogInterval(); ok {
		t.Fatalf("watchdog should be off")
	}
}
