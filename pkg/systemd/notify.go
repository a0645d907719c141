// Package systemd speaks the sd_notify protocol when the process runs as a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd that startup finished. It reports whether the
// notification socket was present.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status publishes a free-form status line shown by "systemctl status".
func Status(line string) (bool, error) { return daemon.SdNotify(false, "STATUS="+line) }

// WatchdogInterval returns how often the watchdog must be pinged, or zero
// when WatchdogSec is not configured for the unit.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	// Ping at half the deadline.
	return d / 2
}

// Watchdog pings systemd while healthy returns true, until ctx is done.
// It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context, healthy func() bool) {
	every := WatchdogInterval()
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy == nil || healthy() {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
