package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doughall/notifier/internal/scheduler"
	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest = "org.freedesktop.Notifications"
	notificationsPath = "/org/freedesktop/Notifications"
	notifyMethod      = notificationsDest + ".Notify"

	// DefaultSound is a name from the freedesktop sound naming spec.
	DefaultSound = "dialog-information"
)

// freedesktop urgency levels.
const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// DesktopConfig configures the desktop sink.
type DesktopConfig struct {
	AppName string
	Timeout time.Duration
	Sound   string
}

// Desktop shows messages through the freedesktop notification service on
// the session bus.
type Desktop struct {
	cfg DesktopConfig

	mu   sync.Mutex
	conn *dbus.Conn
	dial func() (*dbus.Conn, error)
}

// NewDesktop creates a desktop sink. The session bus is dialled on first
// delivery so a missing bus does not prevent startup.
func NewDesktop(cfg DesktopConfig) *Desktop {
	if cfg.AppName == "" {
		cfg.AppName = "notifier"
	}
	if cfg.Sound == "" {
		cfg.Sound = DefaultSound
	}
	return &Desktop{cfg: cfg, dial: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Deliver(ctx context.Context, msg Message) error {
	conn, err := d.connection()
	if err != nil {
		return err
	}

	hints := map[string]dbus.Variant{
		"urgency":    dbus.MakeVariant(urgencyFor(msg.Level)),
		"sound-name": dbus.MakeVariant(d.cfg.Sound),
	}
	timeout := int32(-1)
	if d.cfg.Timeout > 0 {
		timeout = int32(d.cfg.Timeout / time.Millisecond)
	}

	obj := conn.Object(notificationsDest, notificationsPath)
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		d.cfg.AppName,
		uint32(0),
		"",
		msg.Title(),
		msg.Label,
		[]string{},
		hints,
		timeout,
	)
	if call.Err != nil {
		d.reset()
		return fmt.Errorf("desktop notify failed: %w", call.Err)
	}
	return nil
}

// Close releases the session bus connection.
func (d *Desktop) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *Desktop) connection() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn, nil
	}
	conn, err := d.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	d.conn = conn
	return conn, nil
}

func (d *Desktop) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

func urgencyFor(level scheduler.Level) byte {
	if level == scheduler.LevelCritical {
		return urgencyCritical
	}
	return urgencyNormal
}
