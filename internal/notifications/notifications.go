// Package notifications loads, saves and registers the user's notification
// list, and watches the file so edits take effect without a restart.
//
// The file is YAML:
//
//	notifications:
//	  - label: "Stand up and stretch"
//	    cron: "0 0 * * * MON-FRI *"
//	    level: "Info"
package notifications

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned by Load when the file does not exist.
	ErrNotFound = errors.New("notifications file not found")
	// ErrLabelRequired is returned by Append for a notification without a label.
	ErrLabelRequired = errors.New("label is required")
	// ErrIndexOutOfRange is returned by RemoveAt for a bad index.
	ErrIndexOutOfRange = errors.New("notification index out of range")
)

// Notification is one scheduled reminder.
type Notification struct {
	Label string `koanf:"label" yaml:"label"`
	Cron  string `koanf:"cron" yaml:"cron"`
	Level string `koanf:"level" yaml:"level"`
}

// Validate checks the cron expression. A notification without a label is
// still scheduled; only Append insists on one.
func (n Notification) Validate() error {
	return cronexpr.Check(n.Cron)
}

// Payload converts the notification to what the scheduler carries.
func (n Notification) Payload(index int) scheduler.Payload {
	return scheduler.Payload{
		Label:  n.Label,
		Level:  scheduler.ParseLevel(n.Level),
		Source: fmt.Sprintf("notifications[%d]", index),
	}
}

// File is the document stored on disk.
type File struct {
	Notifications []Notification `koanf:"notifications" yaml:"notifications"`
}

// Load reads the notification list. An empty file yields an empty list.
func Load(path string) ([]Notification, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications from %s: %w", path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse notifications in %s: %w", path, err)
	}

	var doc File
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notifications: %w", err)
	}
	return doc.Notifications, nil
}

// LoadOrEmpty is Load with a missing file treated as an empty list.
func LoadOrEmpty(path string) ([]Notification, error) {
	list, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return list, err
}

// Save writes the list to path, creating the directory if needed.
func Save(path string, list []Notification) error {
	if list == nil {
		list = []Notification{}
	}
	data, err := goyaml.Marshal(File{Notifications: list})
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create notifications directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write notifications to %s: %w", path, err)
	}
	return nil
}

// Append validates n and adds it to the end of the file. An invalid
// notification is never written.
func Append(path string, n Notification) error {
	if strings.TrimSpace(n.Label) == "" {
		return ErrLabelRequired
	}
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Level == "" {
		n.Level = string(scheduler.LevelInfo)
	}
	list, err := LoadOrEmpty(path)
	if err != nil {
		return err
	}
	return Save(path, append(list, n))
}

// RemoveAt deletes the notification at index and returns it.
func RemoveAt(path string, index int) (Notification, error) {
	list, err := Load(path)
	if err != nil {
		return Notification{}, err
	}
	if index < 0 || index >= len(list) {
		return Notification{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(list))
	}
	removed := list[index]
	list = append(list[:index], list[index+1:]...)
	return removed, Save(path, list)
}
