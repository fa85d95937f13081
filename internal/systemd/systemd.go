// Package systemd integrates the notifier with a systemd user unit:
// READY/RELOADING/STOPPING notifications and watchdog pings tied to the
// tick loop's health. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger *slog.Logger
	notify func(state string) (bool, error)
}

// New creates a notifier writing to $NOTIFY_SOCKET.
func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *Notifier) send(state, what string) bool {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("failed to send systemd notification", "state", what, "error", err)
		return false
	}
	if sent {
		n.logger.Debug("sent systemd notification", "state", what)
	}
	return sent
}

// Ready reports that startup finished and notifications are scheduled.
func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady, "ready") }

// Reloading reports that the notification list is being reloaded.
// Ready must be sent again once the reload is done.
func (n *Notifier) Reloading() bool { return n.send(daemon.SdNotifyReloading, "reloading") }

// Stopping reports that shutdown began.
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping, "stopping") }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(text string) bool { return n.send("STATUS="+text, "status") }

// HealthCheckFunc returns true if the service is healthy.
type HealthCheckFunc func() bool

// StartWatchdog pings the watchdog every half WatchdogSec while healthCheck
// passes. It returns immediately when the unit has no watchdog.
func (n *Notifier) StartWatchdog(ctx context.Context, healthCheck HealthCheckFunc) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Debug("watchdog not enabled", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	pingInterval := interval / 2
	n.logger.Info("starting systemd watchdog",
		"watchdog_interval", interval,
		"ping_interval", pingInterval,
	)
	go n.watchdogLoop(ctx, pingInterval, healthCheck)
}

func (n *Notifier) watchdogLoop(ctx context.Context, interval time.Duration, healthCheck HealthCheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthCheck() {
				n.logger.Warn("tick loop unhealthy, skipping watchdog ping")
				continue
			}
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				n.logger.Warn("failed to send watchdog ping", "error", err)
			}
		}
	}
}

// IsRunningUnderSystemd reports whether NOTIFY_SOCKET is set.
func IsRunningUnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
