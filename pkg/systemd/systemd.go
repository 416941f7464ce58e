// Package systemd speaks the sd_notify protocol for services run under
// systemd (Type=notify, optionally WatchdogSec=).
package systemd

import (
	"time"

	logx "tickwork/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates to the service manager. A disabled notifier,
// or one running outside systemd, does nothing.
type Notifier struct {
	enabled bool
	log     logx.Logger
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log}
}

func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

func (n *Notifier) Ready() bool    { return n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Watchdog() bool { return n.notify(daemon.SdNotifyWatchdog) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) bool { return n.notify("STATUS=" + msg) }

// notify reports whether the message was delivered.
func (n *Notifier) notify(state string) bool {
	if !n.Enabled() {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// WatchdogInterval returns the WatchdogSec the unit was started with, or
// false when the watchdog is off.
func WatchdogInterval() (time.Duration, bool) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
