// Package autostart registers the notifier as a per-user service so it
// starts with the user's session (a systemd user unit, a launchd agent or a
// Windows service, depending on the platform).
package autostart

import (
	"errors"
	"fmt"
	"os"

	"github.com/kardianos/service"
)

// ServiceName is the unit name registered with the service manager.
const ServiceName = "notifier"

// State is the installed service's state.
type State string

const (
	StateNotInstalled State = "not installed"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateUnknown      State = "unknown"
)

// program satisfies service.Interface. The service manager runs the binary
// directly with "run", so Start and Stop have nothing to do here.
type program struct{}

func (program) Start(service.Service) error { return nil }
func (program) Stop(service.Service) error  { return nil }

// Config builds the service definition for executable running with configPath.
func Config(executable, configPath string) *service.Config {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:        ServiceName,
		DisplayName: "Notifier",
		Description: "Shows cron-scheduled desktop notifications.",
		Executable:  executable,
		Arguments:   args,
		Option: service.KeyValue{
			"UserService": true,
			"Restart":     "on-failure",
		},
	}
}

// Manager installs and inspects the service.
type Manager struct {
	svc service.Service
}

// NewManager prepares a manager for the current executable.
func NewManager(configPath string) (*Manager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	svc, err := service.New(program{}, Config(exe, configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &Manager{svc: svc}, nil
}

// Platform names the service manager in use.
func (m *Manager) Platform() string { return m.svc.Platform() }

// Install registers and starts the service.
func (m *Manager) Install() error {
	if err := m.svc.Install(); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	if err := m.svc.Start(); err != nil {
		return fmt.Errorf("service installed but failed to start: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service. Stopping a service that is not
// running is not an error.
func (m *Manager) Uninstall() error {
	_ = m.svc.Stop()
	if err := m.svc.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// Status reports the service state.
func (m *Manager) Status() (State, error) {
	st, err := m.svc.Status()
	if errors.Is(err, service.ErrNotInstalled) {
		return StateNotInstalled, nil
	}
	if err != nil {
		return StateUnknown, err
	}
	return stateFor(st), nil
}

func stateFor(st service.Status) State {
	switch st {
	case service.StatusRunning:
		return StateRunning
	case service.StatusStopped:
		return StateStopped
	default:
		return StateUnknown
	}
}
