package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

// watchEvents logs lifecycle events and mirrors delivery counters into the
// systemd status line.
func (a *App) watchEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// Keep this debug-level to avoid noise for busy chats.
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			if strings.HasPrefix(e.Type, "reminder.") {
				if _, err := systemd.Status(a.statusLine()); err != nil {
					a.log.Debug("sd_notify status failed", logx.Err(err))
				}
			}
		}
	}
}

func (a *App) statusLine() string {
	st := a.notif.Stats()
	return fmt.Sprintf("delivered=%d failed=%d dropped=%d queued=%d", st.Delivered, st.Failed, st.Dropped, st.QueueLen)
}

// healthy reports whether the scan loop has completed recently enough.
// A disabled scheduler counts as healthy.
func (a *App) healthy(now time.Time, watchdog time.Duration) bool {
	snap := a.sched.Snapshot()
	if !snap.Enabled {
		return true
	}
	staleAfter := max(watchdog, 3*snap.Interval)
	last := time.Unix(0, a.lastScan.Load())
	if a.lastScan.Load() == 0 {
		last = a.startedAt
	}
	return now.Sub(last) < staleAfter
}

// watchdogLoop pings systemd at half the watchdog interval while scans keep
// completing. A stuck scan stops the pings and systemd restarts the unit.
func (a *App) watchdogLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if !a.healthy(now, every) {
				a.log.Warn("scheduler looks stuck; withholding watchdog ping",
					logx.Time("last_scan", time.Unix(0, a.lastScan.Load())))
				continue
			}
			if _, err := systemd.Watchdog(); err != nil {
				a.log.Debug("sd_notify watchdog failed", logx.Err(err))
			}
		}
	}
}
