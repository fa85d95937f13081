// Package sink delivers fired notifications to the places a user sees them:
// the desktop, chat, webhooks, a message bus, the log, or connected
// websocket clients.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doughall/notifier/internal/scheduler"
)

// ErrNotConfigured is returned when a sink is built without its required settings.
var ErrNotConfigured = errors.New("sink not configured")

// Sink delivers a message somewhere. Implementations must be safe for
// concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Message is the wire and display form of one firing.
type Message struct {
	JobID       scheduler.JobID `json:"job_id"`
	Label       string          `json:"label"`
	Level       scheduler.Level `json:"level"`
	Source      string          `json:"source,omitempty"`
	Host        string          `json:"host,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	FiredAt     time.Time       `json:"fired_at"`
}

// FromFiring builds the message for f, stamped with firedAt.
func FromFiring(f scheduler.Firing, firedAt time.Time) Message {
	return Message{
		JobID:       f.JobID,
		Label:       f.Payload.Label,
		Level:       f.Payload.Level,
		Source:      f.Payload.Source,
		ScheduledAt: f.ScheduledAt,
		FiredAt:     firedAt,
	}
}

// Title is a short heading for the message.
func (m Message) Title() string {
	if m.Level == "" || m.Level == scheduler.LevelInfo {
		return "Notifier"
	}
	return fmt.Sprintf("Notifier (%s)", m.Level)
}
