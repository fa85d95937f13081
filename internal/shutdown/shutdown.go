// Package shutdown stops the notifier's components in reverse order of
// registration, so the tick loop stops before the dispatcher drains, and the
// dispatcher drains before the history store closes.
//
//	coord := shutdown.NewCoordinator(logger)
//	coord.Register("history", store)
//	coord.Register("dispatcher", dispatcher)
//	coord.Register("scheduler", sched)
//	coord.Shutdown(ctx) // scheduler, dispatcher, history
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Shutdowner is implemented by components that take part in shutdown.
// Shutdown should respect ctx's deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a function to Shutdowner.
type Func func(ctx context.Context) error

func (f Func) Shutdown(ctx context.Context) error { return f(ctx) }

// Closer adapts an io.Closer-style Close to Shutdowner.
func Closer(fn func() error) Shutdowner {
	return Func(func(context.Context) error { return fn() })
}

type component struct {
	name       string
	shutdowner Shutdowner
}

// Coordinator runs registered shutdowns last-in first-out. It runs at most once.
type Coordinator struct {
	mu         sync.Mutex
	components []component
	done       bool
	logger     *slog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register adds a component. A nil Shutdowner is ignored.
func (c *Coordinator) Register(name string, s Shutdowner) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{name: name, shutdowner: s})
	c.logger.Debug("registered shutdown handler", slog.String("handler", name))
}

// Names returns the registered component names in shutdown order.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.components))
	for i := len(c.components) - 1; i >= 0; i-- {
		names = append(names, c.components[i].name)
	}
	return names
}

// Shutdown stops every component, continuing past failures. Components not
// reached before ctx expires are reported in the returned error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	components := c.components
	c.mu.Unlock()

	c.logger.Info("starting coordinated shutdown", slog.Int("components", len(components)))

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		comp := components[i]

		if ctx.Err() != nil {
			c.logger.Error("shutdown deadline exceeded", slog.String("remaining_component", comp.name))
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded at component %s: %w", comp.name, ctx.Err()))
			break
		}

		start := time.Now()
		err := comp.shutdowner.Shutdown(ctx)
		duration := time.Since(start)

		if err != nil {
			c.logger.Error("component shutdown failed",
				slog.String("handler", comp.name),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", comp.name, err))
			continue
		}
		c.logger.Debug("component shutdown complete",
			slog.String("handler", comp.name),
			slog.Duration("duration", duration),
		)
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("coordinated shutdown completed with errors")
		return err
	}
	c.logger.Info("coordinated shutdown complete")
	return nil
}
