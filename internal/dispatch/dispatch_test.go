package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/doughall/notifier/internal/history"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/doughall/notifier/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSink struct {
	name  string
	err   error
	panic bool
	block chan struct{}

	mu  sync.Mutex
	got []sink.Message
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, msg sink.Message) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSink) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.got))
	for i, m := range f.got {
		out[i] = m.Label
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	records []history.Record
	pruned  []int
}

func (s *fakeStore) Append(r *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = uint64(len(s.records) + 1)
	s.records = append(s.records, *r)
	return nil
}

func (s *fakeStore) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, keep)
	return 0, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeObserver struct {
	mu         sync.Mutex
	dropped    int
	deliveries map[string]int
	failures   map[string]int
}

func newObserver() *fakeObserver {
	return &fakeObserver{deliveries: map[string]int{}, failures: map[string]int{}}
}

func (o *fakeObserver) Dropped() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *fakeObserver) Delivered(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries[name]++
	if err != nil {
		o.failures[name]++
	}
}

func firing(label string) scheduler.Firing {
	at := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	return scheduler.Firing{
		JobID:       scheduler.NewJobID(),
		Payload:     scheduler.Payload{Label: label, Level: scheduler.LevelInfo},
		ScheduledAt: at,
		TickAt:      at,
	}
}

func TestDeliver_FanOut(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("unreachable")}
	boom := &fakeSink{name: "boom", panic: true}
	store := &fakeStore{}
	obs := newObserver()
	fired := time.Date(2024, 3, 14, 12, 0, 0, 500, time.UTC)

	d := New(Config{HistoryKeep: 10, Host: "desk"}, []sink.Sink{bad, boom, ok},
		WithStore(store), WithObserver(obs), WithLogger(nopLogger),
		WithClock(func() time.Time { return fired }))

	rec := d.Deliver(context.Background(), firing("lunch"))

	assert.Equal(t, []string{"ok"}, rec.Delivered)
	assert.Equal(t, "unreachable", rec.Errors["bad"])
	assert.Contains(t, rec.Errors["boom"], "panicked")
	assert.True(t, rec.FiredAt.Equal(fired))
	assert.Equal(t, []string{"lunch"}, ok.labels())
	assert.Equal(t, "desk", ok.got[0].Host)

	require.Equal(t, 1, store.len())
	assert.Equal(t, []int{10}, store.pruned)
	assert.Equal(t, 1, obs.deliveries["ok"])
	assert.Equal(t, 1, obs.failures["bad"])
	assert.Equal(t, 1, obs.failures["boom"])
	assert.Equal(t, []string{"bad", "boom", "ok"}, d.Sinks())
}

func TestHandle_DropsWhenFull(t *testing.T) {
	obs := newObserver()
	d := New(Config{QueueSize: 2}, nil, WithObserver(obs), WithLogger(nopLogger))

	require.NoError(t, d.Handle(context.Background(), firing("a")))
	require.NoError(t, d.Handle(context.Background(), firing("b")))
	assert.ErrorIs(t, d.Handle(context.Background(), firing("c")), ErrQueueFull)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 2, d.Pending())
}

func TestWorkers_DeliverInOrder(t *testing.T) {
	s := &fakeSink{name: "s"}
	store := &fakeStore{}
	d := New(Config{Workers: 1}, []sink.Sink{s}, WithStore(store), WithLogger(nopLogger))
	d.Start(context.Background())

	for _, l := range []string{"a", "b", "c"} {
		require.NoError(t, d.Handle(context.Background(), firing(l)))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, s.labels())
	assert.Equal(t, 3, store.len())
	assert.ErrorIs(t, d.Handle(context.Background(), firing("late")), ErrClosed)
	assert.NoError(t, d.Shutdown(context.Background()))
}

func TestShutdown_Deadline(t *testing.T) {
	s := &fakeSink{name: "slow", block: make(chan struct{})}
	d := New(Config{Workers: 1}, []sink.Sink{s}, WithLogger(nopLogger))
	d.Start(context.Background())
	require.NoError(t, d.Handle(context.Background(), firing("stuck")))
	require.NoError(t, d.Handle(context.Background(), firing("queued")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.labels())
}

func TestShutdown_NotStarted(t *testing.T) {
	d := New(Config{}, nil, WithLogger(nopLogger))
	assert.NoError(t, d.Shutdown(context.Background()))
}

func TestRateLimit(t *testing.T) {
	s := &fakeSink{name: "s"}
	d := New(Config{Workers: 1, RatePerSecond: 20, Burst: 1}, []sink.Sink{s}, WithLogger(nopLogger))
	d.Start(context.Background())

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Handle(context.Background(), firing("x")))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	assert.Len(t, s.labels(), 4)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestImplementsHandler(t *testing.T) {
	var _ scheduler.Handler = New(Config{}, nil)
}
