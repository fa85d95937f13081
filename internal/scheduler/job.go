package scheduler

import (
	"strings"
	"time"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/google/uuid"
)

// JobID identifies a registered job. IDs are random UUIDs generated at Add.
type JobID uuid.UUID

// NewJobID returns a fresh random ID.
func NewJobID() JobID { return JobID(uuid.New()) }

// String returns the canonical UUID form.
func (id JobID) String() string { return uuid.UUID(id).String() }

// MarshalText encodes the ID as its string form.
func (id JobID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText decodes the string form.
func (id *JobID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = JobID(u)
	return nil
}

// ParseJobID parses the form produced by String.
func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return JobID{}, err
	}
	return JobID(u), nil
}

// Level is the severity attached to a notification.
type Level string

const (
	LevelInfo     Level = "Info"
	LevelWarning  Level = "Warning"
	LevelCritical Level = "Critical"
)

// ParseLevel maps text to a Level case-insensitively. Unknown or empty text
// yields LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarning
	case "critical", "error":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// Payload is what a job carries instead of a callback. The Handler given to
// the scheduler decides what firing a payload means.
type Payload struct {
	Label  string `json:"label"`
	Level  Level  `json:"level"`
	Source string `json:"source,omitempty"`
}

// Firing is handed to the Handler for every due job.
type Firing struct {
	JobID   JobID
	Payload Payload
	// ScheduledAt is the schedule instant that made the job due.
	ScheduledAt time.Time
	// TickAt is the "now" of the tick that found it due.
	TickAt time.Time
}

// JobInfo is a read-only snapshot of a registered job.
type JobInfo struct {
	ID       JobID
	Payload  Payload
	Schedule *cronexpr.Schedule
	// Next is the first instant after the scheduler's cursor, zero if none.
	Next time.Time
}

type job struct {
	id       JobID
	schedule *cronexpr.Schedule
	payload  Payload
}
