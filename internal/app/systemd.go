package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "scrubber/pkg/logx"
)

// notifier speaks the sd_notify protocol. Without $NOTIFY_SOCKET every call
// is a silent no-op, so it is safe outside systemd.
type notifier struct {
	enabled bool
	log     logx.Logger
}

func (n notifier) send(state string) {
	if !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify skipped (no socket)", logx.String("state", state))
	}
}

func (n notifier) ready()     { n.send(daemon.SdNotifyReady) }
func (n notifier) stopping()  { n.send(daemon.SdNotifyStopping) }
func (n notifier) reloading() { n.send(daemon.SdNotifyReloading) }

// watchdog pings at half the WatchdogSec interval until ctx is done. It
// returns immediately when the unit has no watchdog.
func (n notifier) watchdog(ctx context.Context) error {
	if !n.enabled {
		return nil
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	n.log.Debug("watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
