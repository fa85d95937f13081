package sink

import (
	"context"
	"log/slog"

	"github.com/doughall/notifier/internal/scheduler"
)

// Log writes each message as a structured log line.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log sink.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Deliver(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	switch msg.Level {
	case scheduler.LevelWarning:
		level = slog.LevelWarn
	case scheduler.LevelCritical:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "notification",
		slog.String("label", msg.Label),
		slog.String("job_id", msg.JobID.String()),
		slog.String("source", msg.Source),
		slog.Time("scheduled_at", msg.ScheduledAt),
	)
	return nil
}
