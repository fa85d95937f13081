package systemd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
)

type recorded struct {
	mu     sync.Mutex
	states []string
}

func (r *recorded) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorded) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(r *recorded) *Notifier {
	n := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	n.notify = r.notify
	return n
}

func TestStates(t *testing.T) {
	r := &recorded{}
	n := newTestNotifier(r)

	assert.True(t, n.Ready())
	assert.True(t, n.Reloading())
	assert.True(t, n.Status("3 notifications scheduled"))
	assert.True(t, n.Stopping())
	assert.Equal(t, []string{
		daemon.SdNotifyReady,
		daemon.SdNotifyReloading,
		"STATUS=3 notifications scheduled",
		daemon.SdNotifyStopping,
	}, r.states)
}

func TestNotifyError(t *testing.T) {
	n := newTestNotifier(&recorded{})
	n.notify = func(string) (bool, error) { return false, errors.New("socket gone") }
	assert.False(t, n.Ready())
}

func TestOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	assert.False(t, IsRunningUnderSystemd())
	assert.False(t, New(nil).Ready())
}

func TestWatchdogLoop_SkipsWhenUnhealthy(t *testing.T) {
	r := &recorded{}
	n := newTestNotifier(r)

	var mu sync.Mutex
	healthy := false
	check := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthy
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.watchdogLoop(ctx, 5*time.Millisecond, check)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, r.count(daemon.SdNotifyWatchdog))

	mu.Lock()
	healthy = true
	mu.Unlock()
	assert.Eventually(t, func() bool { return r.count(daemon.SdNotifyWatchdog) > 0 }, time.Second, 5*time.Millisecond)
}
