// Package instance keeps a single notifier running per user. The running
// process records its PID in a file; a second process that finds a live
// notifier behind that PID refuses to start.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrAlreadyRunning is returned by Acquire when another notifier holds the lock.
var ErrAlreadyRunning = errors.New("notifier already running")

// isNotifier reports whether pid is a live process running the same program
// as this one.
var isNotifier = func(ctx context.Context, pid int32) (bool, error) {
	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil || !exists {
		return false, err
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false, nil
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return false, nil
	}
	return name == selfName(), nil
}

func selfName() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return filepath.Base(exe)
}

// Lock is a held PID file.
type Lock struct {
	path string
	pid  int32
}

// Acquire takes the lock at path, replacing a stale PID file.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	return acquire(ctx, path, int32(os.Getpid()))
}

// pidSettle is how long an unparsable PID file gets to be filled in by the
// process that just created it.
var pidSettle = 100 * time.Millisecond

func acquire(ctx context.Context, path string, self int32) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create pid directory: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(int(self)) + "\n")
			if werr = errors.Join(werr, f.Close()); werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write pid file: %w", werr)
			}
			return &Lock{path: path, pid: self}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create pid file: %w", err)
		}

		pid, err := settledPID(ctx, path)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			alive, err := isNotifier(ctx, pid)
			if err != nil {
				return nil, fmt.Errorf("failed to inspect pid %d: %w", pid, err)
			}
			if alive && pid != self {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
		}

		// Stale, unreadable, or our own: clear it and race for it again. A
		// file that changed since it was read belongs to a newer contender.
		if current, _ := readPID(path); current != pid {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: pid file %s keeps reappearing", ErrAlreadyRunning, path)
}

// settledPID reads the PID at path, giving a freshly created empty file one
// chance to be written.
func settledPID(ctx context.Context, path string) (int32, error) {
	pid, err := readPID(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return pid, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(pidSettle):
	}
	return readPID(path)
}

// Release removes the PID file if it still names this process.
func (l *Lock) Release() error {
	pid, err := readPID(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil || pid != l.pid {
		return err
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// Shutdown releases the lock.
func (l *Lock) Shutdown(context.Context) error { return l.Release() }

// Running reports the PID recorded at path and whether a notifier is alive
// behind it. A missing or unreadable file means nothing is running.
func Running(ctx context.Context, path string) (int32, bool, error) {
	pid, err := readPID(path)
	if err != nil {
		return 0, false, nil
	}
	alive, err := isNotifier(ctx, pid)
	if err != nil {
		return pid, false, fmt.Errorf("failed to inspect pid %d: %w", pid, err)
	}
	return pid, alive, nil
}

func readPID(path string) (int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return int32(n), nil
}

// Usage is a snapshot of this process's resource use.
type Usage struct {
	PID        int32         `json:"pid"`
	RSSBytes   uint64        `json:"rss_bytes"`
	CPUPercent float64       `json:"cpu_percent"`
	Threads    int32         `json:"threads"`
	Uptime     time.Duration `json:"uptime_ns"`
}

// Self reports resource use of the current process.
func Self(ctx context.Context) (Usage, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return Usage{}, err
	}

	u := Usage{PID: pid}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		u.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		u.Threads = n
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		u.Uptime = time.Since(time.UnixMilli(created))
	}
	return u, nil
}
