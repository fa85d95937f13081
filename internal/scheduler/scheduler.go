// Package scheduler implements the job registry and the tick engine that
// fires registered cron jobs.
//
// A Scheduler holds jobs in registration order together with a cursor, the
// "now" of the last evaluated tick. Tick(now) fires each job whose schedule
// has an instant in (cursor, now], once, then moves the cursor to now. Several
// missed instants inside one interval collapse into a single firing unless a
// catch-up limit is configured.
//
// All registry mutations and the read-evaluate-advance sequence of a tick go
// through one mutex, so Add/Remove/RemoveAll may be called from any goroutine
// while Run ticks in another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doughall/notifier/internal/cronexpr"
)

// DefaultPollInterval matches the cadence of the notifier's foreground loop.
const DefaultPollInterval = 500 * time.Millisecond

// ErrActionPanic wraps a panic recovered from a Handler.
var ErrActionPanic = errors.New("action panicked")

// Handler performs the action of a due job.
type Handler interface {
	Handle(ctx context.Context, f Firing) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Firing) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, firing Firing) error { return f(ctx, firing) }

// Recorder receives scheduler measurements. metrics.Metrics implements it.
type Recorder interface {
	ObserveTick(d time.Duration, evaluated, fired int)
	ActionFailed()
	SetRegistered(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration, int, int) {}
func (nopRecorder) ActionFailed()                       {}
func (nopRecorder) SetRegistered(int)                   {}

// TickResult summarizes one Tick call.
type TickResult struct {
	Evaluated int
	Fired     int
	Failed    int
	Cursor    time.Time
}

// Scheduler is the job registry plus tick engine.
type Scheduler struct {
	handler  Handler
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	catchUp  int

	// tickMu serializes whole ticks; mu guards the registry and cursor.
	tickMu   sync.Mutex
	mu       sync.Mutex
	order    []JobID
	jobs     map[JobID]*job
	cursor   time.Time
	lastTick time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces time.Now, for the creation cursor and Run.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCatchUp makes a tick fire a job once per missed instant, up to max per
// tick, instead of collapsing them. max <= 1 keeps the collapsing behavior.
func WithCatchUp(max int) Option {
	return func(s *Scheduler) { s.catchUp = max }
}

// New creates a scheduler whose cursor starts at the current time.
func New(handler Handler, opts ...Option) *Scheduler {
	s := &Scheduler{
		handler:  handler,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		now:      time.Now,
		jobs:     make(map[JobID]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cursor = s.now()
	return s
}

// Add registers a job and returns its new ID.
func (s *Scheduler) Add(schedule *cronexpr.Schedule, payload Payload) JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewJobID()
	for _, taken := s.jobs[id]; taken; _, taken = s.jobs[id] {
		id = NewJobID()
	}
	s.jobs[id] = &job{id: id, schedule: schedule, payload: payload}
	s.order = append(s.order, id)
	s.recorder.SetRegistered(len(s.order))

	s.logger.Debug("job added",
		slog.String("job_id", id.String()),
		slog.String("cron", schedule.String()),
		slog.String("label", payload.Label),
	)
	return id
}

// Entry pairs a schedule with its payload for Replace.
type Entry struct {
	Schedule *cronexpr.Schedule
	Payload  Payload
}

// Replace swaps the whole registry for entries in one step, so no tick can
// observe a half-reloaded registry. It returns the new IDs in entry order.
func (s *Scheduler) Replace(entries []Entry) []JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = make([]JobID, 0, len(entries))
	s.jobs = make(map[JobID]*job, len(entries))
	ids := make([]JobID, 0, len(entries))
	for _, e := range entries {
		id := NewJobID()
		for _, taken := s.jobs[id]; taken; _, taken = s.jobs[id] {
			id = NewJobID()
		}
		s.jobs[id] = &job{id: id, schedule: e.Schedule, payload: e.Payload}
		s.order = append(s.order, id)
		ids = append(ids, id)
	}
	s.recorder.SetRegistered(len(s.order))
	s.logger.Debug("registry replaced", slog.Int("count", len(ids)))
	return ids
}

// Remove unregisters a job. Unknown IDs are ignored.
func (s *Scheduler) Remove(id JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	delete(s.jobs, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.recorder.SetRegistered(len(s.order))
	s.logger.Debug("job removed", slog.String("job_id", id.String()))
}

// RemoveAll empties the registry.
func (s *Scheduler) RemoveAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	s.order = nil
	s.jobs = make(map[JobID]*job)
	s.recorder.SetRegistered(0)
	if n > 0 {
		s.logger.Debug("all jobs removed", slog.Int("count", n))
	}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Cursor returns the "now" of the last evaluated tick, or the creation time.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LastTick returns the wall time at which the last tick finished.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Jobs returns snapshots of every job in registration order.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.order))
	for _, id := range s.order {
		j := s.jobs[id]
		out = append(out, JobInfo{
			ID:       j.id,
			Payload:  j.payload,
			Schedule: j.schedule,
			Next:     j.schedule.Next(s.cursor),
		})
	}
	return out
}

// Tick fires every job due in (cursor, now] and advances the cursor to now.
// A now before the cursor fires nothing and leaves the cursor alone.
//
// Handlers run synchronously in registration order, without the registry lock
// held. A handler error or panic is logged and counted; it never stops the
// remaining jobs of the tick. A job removed while the tick is running is not
// fired afterwards.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	start := time.Now()

	s.mu.Lock()
	if now.Before(s.cursor) {
		cursor := s.cursor
		s.mu.Unlock()
		s.logger.Warn("clock moved backwards, tick skipped",
			slog.Time("now", now),
			slog.Time("cursor", cursor),
		)
		return TickResult{Cursor: cursor}
	}
	due := s.dueLocked(now)
	result := TickResult{Evaluated: len(s.order), Cursor: now}
	s.cursor = now
	s.mu.Unlock()

	for _, f := range due {
		if !s.registered(f.JobID) {
			continue
		}
		if err := s.invoke(ctx, f); err != nil {
			result.Failed++
			s.recorder.ActionFailed()
			s.logger.Warn("job action failed",
				slog.String("job_id", f.JobID.String()),
				slog.String("label", f.Payload.Label),
				slog.String("error", err.Error()),
			)
		}
		result.Fired++
	}

	s.mu.Lock()
	s.lastTick = time.Now()
	s.mu.Unlock()
	s.recorder.ObserveTick(time.Since(start), result.Evaluated, result.Fired)

	if result.Fired > 0 {
		s.logger.Info("tick fired jobs",
			slog.Int("evaluated", result.Evaluated),
			slog.Int("fired", result.Fired),
			slog.Int("failed", result.Failed),
		)
	}
	return result
}

// dueLocked lists the firings of this tick. Caller must hold s.mu.
func (s *Scheduler) dueLocked(now time.Time) []Firing {
	var due []Firing
	for _, id := range s.order {
		j := s.jobs[id]
		next := j.schedule.Next(s.cursor)
		if next.IsZero() || next.After(now) {
			continue
		}
		due = append(due, Firing{JobID: id, Payload: j.payload, ScheduledAt: next, TickAt: now})
		if s.catchUp <= 1 {
			continue
		}
		for at := range j.schedule.Upcoming(next) {
			if at.After(now) || countFor(due, id) >= s.catchUp {
				break
			}
			due = append(due, Firing{JobID: id, Payload: j.payload, ScheduledAt: at, TickAt: now})
		}
	}
	return due
}

func countFor(due []Firing, id JobID) int {
	n := 0
	for i := len(due) - 1; i >= 0 && due[i].JobID == id; i-- {
		n++
	}
	return n
}

func (s *Scheduler) registered(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *Scheduler) invoke(ctx context.Context, f Firing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	return s.handler.Handle(ctx, f)
}

// Run ticks every interval until ctx is cancelled. It blocks; use Start to
// run it in the background.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	runCtx := s.begin(ctx)
	defer s.wg.Done()
	s.loop(runCtx, interval)
}

// Start runs the tick loop in a new goroutine. A Shutdown issued any time
// after Start returns waits for that goroutine.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	runCtx := s.begin(ctx)
	go func() {
		defer s.wg.Done()
		s.loop(runCtx, interval)
	}()
}

// begin registers a loop with the wait group and the cancel func Shutdown
// uses. The caller must call s.wg.Done when the loop exits.
func (s *Scheduler) begin(ctx context.Context) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.wg.Add(1)
	return runCtx
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	s.logger.Info("scheduler started",
		slog.Duration("interval", interval),
		slog.Int("jobs", s.Len()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Healthy reports whether a tick finished within the given window.
func (s *Scheduler) Healthy(window time.Duration) bool {
	last := s.LastTick()
	return !last.IsZero() && time.Since(last) <= window
}

// Shutdown stops Run and waits for the tick in progress to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.logger.Info("scheduler shutdown initiated")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
