//go:build linux

package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "hushbot/pkg/logx"
)

// notifyReady tells systemd the service is up and, if a watchdog is
// configured, starts the keepalive loop. Outside systemd both calls are
// cheap no-ops.
func notifyReady(ctx context.Context, log logx.Logger, run func(name string, fn func(ctx context.Context))) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("systemd ready notification failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd notified: ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog probe failed", logx.Err(err))
		return
	}
	if interval == 0 {
		return
	}

	run("systemd.watchdog", func(c context.Context) {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func notifyStopping(log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("systemd stopping notification failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd notified: stopping")
	}
}
