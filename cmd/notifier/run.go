package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/doughall/notifier/internal/config"
	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/dispatch"
	"github.com/doughall/notifier/internal/history"
	"github.com/doughall/notifier/internal/instance"
	"github.com/doughall/notifier/internal/logging"
	"github.com/doughall/notifier/internal/metrics"
	natsinternal "github.com/doughall/notifier/internal/nats"
	"github.com/doughall/notifier/internal/notifications"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/doughall/notifier/internal/shutdown"
	"github.com/doughall/notifier/internal/sink"
	"github.com/doughall/notifier/internal/status"
	"github.com/doughall/notifier/internal/sysinfo"
	"github.com/doughall/notifier/internal/systemd"
	"github.com/doughall/notifier/internal/version"
	"github.com/doughall/notifier/internal/websocket"
	"github.com/spf13/cobra"
)

// Default shutdown timeout - how long queued deliveries get to drain
const shutdownTimeout = 30 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the notification daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", opts.configPath, err)
			}
			logger := logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)
			return runDaemon(cmd.Context(), cfg, opts.configPath, logger)
		},
	}
}

func runDaemon(parent context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	logger.Info("notifier starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("config_path", configPath),
		slog.String("notifications_path", cfg.NotificationsPath),
		slog.Duration("poll_interval", cfg.PollInterval()),
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	lock, err := instance.Acquire(ctx, cfg.PIDPath())
	if err != nil {
		return err
	}

	coordinator := shutdown.NewCoordinator(logger)
	coordinator.Register("instance", lock)

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.Warn("failed to open history, deliveries will not be recorded",
			slog.String("path", cfg.HistoryPath()),
			slog.String("error", err.Error()),
		)
		store = nil
	} else {
		coordinator.Register("history", shutdown.Closer(store.Close))
	}

	host, err := sysinfo.Collect(ctx)
	if err != nil {
		logger.Warn("failed to collect host information", slog.String("error", err.Error()))
	}
	hostname := ""
	if host != nil {
		hostname = host.Hostname
	}

	m := metrics.New()

	var hub *websocket.Hub
	if cfg.Status.Listen != "" {
		hub = websocket.NewHub(logging.WithComponent(logger, "websocket"))
		coordinator.Register("websocket", hub)
	}
	sinks := buildSinks(cfg, logger, hub, coordinator)

	dispOpts := []dispatch.Option{
		dispatch.WithObserver(m),
		dispatch.WithLogger(logging.WithComponent(logger, "dispatch")),
	}
	if store != nil {
		dispOpts = append(dispOpts, dispatch.WithStore(store))
	}
	dispatcher := dispatch.New(dispatch.Config{
		QueueSize:     cfg.Dispatch.QueueSize,
		Workers:       cfg.Dispatch.Workers,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
		HistoryKeep:   cfg.HistoryKeep,
		Host:          hostname,
	}, sinks, dispOpts...)
	dispatcher.Start(context.WithoutCancel(ctx))
	coordinator.Register("dispatcher", dispatcher)

	sched := scheduler.New(dispatcher,
		scheduler.WithLogger(logging.WithComponent(logger, "scheduler")),
		scheduler.WithRecorder(m),
		scheduler.WithCatchUp(cfg.CatchUpMax),
	)

	notifier := systemd.New(logger)
	parser := cronexpr.NewParser(loc)
	reload := func(context.Context) {
		notifier.Reloading()
		defer notifier.Ready()
		loadNotifications(cfg.NotificationsPath, sched, parser, logger, notifier)
	}
	loadNotifications(cfg.NotificationsPath, sched, parser, logger, notifier)

	if cfg.Status.Listen != "" {
		var hist status.History
		if store != nil {
			hist = store
		}
		srv := status.New(status.Deps{
			Jobs:         sched,
			History:      hist,
			Parser:       parser,
			Metrics:      m.Handler(),
			Feed:         hub,
			Host:         host,
			HealthWindow: 3 * cfg.PollInterval(),
			Logger:       logging.WithComponent(logger, "status"),
		})
		if err := srv.Start(cfg.Status.Listen); err != nil {
			logger.Warn("status server disabled", slog.String("error", err.Error()))
		} else {
			coordinator.Register("status", srv)
		}
	}

	sched.Start(ctx, cfg.PollInterval())
	coordinator.Register("scheduler", sched)

	if cfg.WatchEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.NotificationsPath), 0755); err != nil {
			logger.Warn("cannot watch notifications", slog.String("error", err.Error()))
		} else {
			watcher := notifications.NewWatcher(cfg.NotificationsPath, notifications.DefaultDebounce, reload,
				logging.WithComponent(logger, "watcher"))
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Warn("notifications watcher stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	notifier.Ready()
	notifier.StartWatchdog(ctx, func() bool { return sched.Healthy(3 * cfg.PollInterval()) })

wait:
	for {
		select {
		case <-hup:
			logger.Info("SIGHUP received, reloading notifications")
			reload(ctx)
		case <-ctx.Done():
			break wait
		}
	}

	logger.Info("shutdown signal received, starting graceful shutdown")
	notifier.Stopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadNotifications replaces the registered jobs with the file's contents.
// A file that cannot be read leaves the current jobs in place.
func loadNotifications(path string, reg notifications.Registrar, parser *cronexpr.Parser, logger *slog.Logger, notifier *systemd.Notifier) {
	list, err := notifications.Load(path)
	if errors.Is(err, notifications.ErrNotFound) {
		logger.Warn("notifications file doesn't exist, nothing scheduled", slog.String("path", path))
		list = nil
	} else if err != nil {
		logger.Error("failed to load notifications, keeping current schedule",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	report := notifications.Register(reg, parser, list)
	for _, rej := range report.Rejected {
		logger.Warn("notification rejected",
			slog.Int("index", rej.Index),
			slog.String("label", rej.Notification.Label),
			slog.String("cron", rej.Notification.Cron),
			slog.String("error", rej.Err.Error()),
			slog.String("expected", cronexpr.Template),
		)
	}
	if len(report.Registered) == 0 {
		logger.Info("no jobs scheduled, waiting for notifications", slog.String("path", path))
	} else {
		logger.Info("notifications scheduled",
			slog.Int("registered", len(report.Registered)),
			slog.Int("rejected", len(report.Rejected)),
		)
	}
	notifier.Status(fmt.Sprintf("%d notifications scheduled", len(report.Registered)))
}

// buildSinks creates every configured sink. Sinks that fail to initialise
// are logged and skipped; the log sink is always added when nothing else is.
func buildSinks(cfg *config.Config, logger *slog.Logger, hub *websocket.Hub, coordinator *shutdown.Coordinator) []sink.Sink {
	var sinks []sink.Sink

	if cfg.DesktopEnabled() {
		desktop := sink.NewDesktop(sink.DesktopConfig{
			AppName: cfg.Sinks.Desktop.AppName,
			Timeout: time.Duration(cfg.Sinks.Desktop.TimeoutMS) * time.Millisecond,
			Sound:   cfg.Sinks.Desktop.Sound,
		})
		coordinator.Register("desktop", shutdown.Closer(desktop.Close))
		sinks = append(sinks, desktop)
	}

	if cfg.Sinks.Webhook.URL != "" {
		if wh, err := sink.NewWebhook(cfg.Sinks.Webhook.URL, cfg.Sinks.Webhook.Token); err != nil {
			logger.Warn("webhook sink disabled", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, wh)
		}
	}

	if cfg.Sinks.Slack.WebhookURL != "" {
		if s, err := sink.NewSlack(cfg.Sinks.Slack.WebhookURL, cfg.Sinks.Slack.Channel); err != nil {
			logger.Warn("slack sink disabled", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, s)
		}
	}

	if cfg.Sinks.NATS.Servers != "" {
		natsLogger := logging.WithComponent(logger, "nats")
		client := natsinternal.NewClient(natsinternal.Config{
			Servers:  cfg.Sinks.NATS.Servers,
			NKeySeed: cfg.Sinks.NATS.NKeySeed,
			Subject:  cfg.Sinks.NATS.Subject,
		}, natsLogger)
		if err := client.Connect(); err != nil {
			logger.Warn("NATS sink disabled", slog.String("error", err.Error()))
		} else {
			coordinator.Register("nats", shutdown.Closer(func() error { client.Close(); return nil }))
			sinks = append(sinks, natsinternal.NewPublisher(client, natsLogger))
		}
	}

	if hub != nil {
		sinks = append(sinks, hub)
	}

	if cfg.LogSinkEnabled() || len(sinks) == 0 {
		sinks = append(sinks, sink.NewLog(logging.WithComponent(logger, "notification")))
	}
	return sinks
}
