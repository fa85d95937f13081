// Package dispatch decouples the tick loop from delivery. The scheduler hands
// each firing to a Dispatcher, which queues it without blocking; a small
// worker pool drains the queue, paces deliveries and fans each message out to
// every configured sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doughall/notifier/internal/history"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/doughall/notifier/internal/sink"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrQueueFull is returned by Handle when the firing was dropped.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrClosed is returned by Handle after Shutdown.
	ErrClosed = errors.New("dispatcher closed")
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
	deliverTimeout   = 30 * time.Second
)

// Config sizes the queue and worker pool.
type Config struct {
	QueueSize     int
	Workers       int
	RatePerSecond float64 // 0 means unlimited
	Burst         int
	HistoryKeep   int    // 0 keeps everything
	Host          string // stamped on every message
}

// Store is the part of the history store the dispatcher writes to.
type Store interface {
	Append(r *history.Record) error
	Prune(keep int) (int, error)
}

// Observer receives delivery counters.
type Observer interface {
	Dropped()
	Delivered(sink string, err error)
}

// Dispatcher implements scheduler.Handler.
type Dispatcher struct {
	cfg      Config
	sinks    []sink.Sink
	store    Store
	observer Observer
	logger   *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time

	mu        sync.Mutex
	accepting bool
	queue     chan scheduler.Firing
	group     *errgroup.Group
	cancel    context.CancelFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore records every delivery in s.
func WithStore(s Store) Option {
	return func(d *Dispatcher) { d.store = s }
}

// WithObserver reports drops and deliveries to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the clock used to stamp deliveries.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher delivering to sinks. Call Start to run workers.
func New(cfg Config, sinks []sink.Sink, opts ...Option) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.RatePerSecond))
	}

	d := &Dispatcher{
		cfg:       cfg,
		sinks:     sinks,
		logger:    slog.Default(),
		limiter:   rate.NewLimiter(limit, burst),
		now:       time.Now,
		accepting: true,
		queue:     make(chan scheduler.Firing, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Pending returns the number of queued firings.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Start launches the worker pool. Workers run until Shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	d.group = g

	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.worker(gctx)
			return nil
		})
	}
	d.logger.Debug("dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
		slog.Any("sinks", d.Sinks()),
	)
}

// Handle queues f for delivery. It never blocks: when the queue is full the
// firing is dropped and ErrQueueFull returned.
func (d *Dispatcher) Handle(_ context.Context, f scheduler.Firing) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.accepting {
		return ErrClosed
	}

	select {
	case d.queue <- f:
		return nil
	default:
		if d.observer != nil {
			d.observer.Dropped()
		}
		d.logger.Warn("dispatch queue full, dropping firing",
			slog.String("job_id", f.JobID.String()),
			slog.String("label", f.Payload.Label),
		)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for f := range d.queue {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Debug("discarding firing on shutdown", slog.String("job_id", f.JobID.String()))
			continue
		}
		d.Deliver(ctx, f)
	}
}

// Deliver sends f to every sink synchronously and records the outcome. A
// failing sink does not prevent delivery to the others.
func (d *Dispatcher) Deliver(ctx context.Context, f scheduler.Firing) history.Record {
	msg := sink.FromFiring(f, d.now())
	msg.Host = d.cfg.Host
	rec := history.Record{
		JobID:       f.JobID,
		Label:       f.Payload.Label,
		Level:       f.Payload.Level,
		Source:      f.Payload.Source,
		ScheduledAt: f.ScheduledAt,
		FiredAt:     msg.FiredAt,
	}

	for _, s := range d.sinks {
		err := d.deliverOne(ctx, s, msg)
		if d.observer != nil {
			d.observer.Delivered(s.Name(), err)
		}
		if err != nil {
			if rec.Errors == nil {
				rec.Errors = make(map[string]string)
			}
			rec.Errors[s.Name()] = err.Error()
			d.logger.Warn("delivery failed",
				slog.String("sink", s.Name()),
				slog.String("label", f.Payload.Label),
				slog.String("error", err.Error()),
			)
			continue
		}
		rec.Delivered = append(rec.Delivered, s.Name())
	}

	d.record(&rec)
	return rec
}

func (d *Dispatcher) deliverOne(ctx context.Context, s sink.Sink, msg sink.Message) (err error) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Deliver(ctx, msg)
}

func (d *Dispatcher) record(rec *history.Record) {
	if d.store == nil {
		return
	}
	if err := d.store.Append(rec); err != nil {
		d.logger.Error("failed to record firing", slog.String("error", err.Error()))
		return
	}
	if d.cfg.HistoryKeep > 0 {
		if _, err := d.store.Prune(d.cfg.HistoryKeep); err != nil {
			d.logger.Warn("failed to prune history", slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops intake and waits for queued firings to be delivered. When
// ctx expires first, in-flight deliveries are cancelled and whatever is
// still queued is discarded.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return nil
	}
	d.accepting = false
	close(d.queue)
	g, cancel := d.group, d.cancel
	d.mu.Unlock()

	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}
