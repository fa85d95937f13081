// Package config provides configuration management for the notifier daemon.
// It uses koanf v2 to load configuration from a YAML file and yaml.v3 to save it.
//
// Configuration is loaded from ~/.config/notifier/config.yaml by default. A
// missing file is not an error: every key has a default, so the daemon runs
// with no configuration at all, reading its notifications from
// ~/.config/notifier.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config path when set.
const EnvConfigPath = "NOTIFIER_CONFIG"

// Config holds the daemon configuration.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// NotificationsPath is the YAML file listing the notifications to schedule.
	// Default: ~/.config/notifier.yaml.
	NotificationsPath string `koanf:"notifications_path" yaml:"notifications_path"`

	// LogLevel controls verbosity: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogFormat is "json" (journald friendly) or "text". Default: "json".
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	// PollIntervalMS is the tick cadence in milliseconds. It bounds firing
	// latency. Default: 500.
	PollIntervalMS int `koanf:"poll_interval_ms" yaml:"poll_interval_ms"`

	// Timezone is an IANA zone name schedules are evaluated in.
	// Empty means the host's local time.
	Timezone string `koanf:"timezone" yaml:"timezone"`

	// CatchUpMax > 1 fires a job once per missed instant (bounded) instead of
	// collapsing missed instants into one firing per tick. Default: 0.
	CatchUpMax int `koanf:"catch_up_max" yaml:"catch_up_max"`

	// DataDir holds the history database and the pid file.
	// Default: ~/.local/share/notifier.
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// HistoryKeep is how many delivery records are retained. Default: 1000.
	HistoryKeep int `koanf:"history_keep" yaml:"history_keep"`

	// Watch reloads the notifications when the file changes. Default: true.
	Watch *bool `koanf:"watch" yaml:"watch,omitempty"`

	Dispatch DispatchConfig `koanf:"dispatch" yaml:"dispatch"`
	Sinks    SinksConfig    `koanf:"sinks" yaml:"sinks"`
	Status   StatusConfig   `koanf:"status" yaml:"status"`
}

// DispatchConfig sizes the asynchronous delivery queue.
type DispatchConfig struct {
	QueueSize     int     `koanf:"queue_size" yaml:"queue_size"`
	Workers       int     `koanf:"workers" yaml:"workers"`
	RatePerSecond float64 `koanf:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `koanf:"burst" yaml:"burst"`
}

// SinksConfig selects where notifications are delivered.
type SinksConfig struct {
	// Log writes every notification to the log. Default: true.
	Log     *bool         `koanf:"log" yaml:"log,omitempty"`
	Desktop DesktopConfig `koanf:"desktop" yaml:"desktop"`
	Webhook WebhookConfig `koanf:"webhook" yaml:"webhook"`
	Slack   SlackConfig   `koanf:"slack" yaml:"slack"`
	NATS    NATSConfig    `koanf:"nats" yaml:"nats"`
}

// DesktopConfig configures freedesktop notifications over D-Bus.
type DesktopConfig struct {
	// Enabled defaults to true.
	Enabled   *bool  `koanf:"enabled" yaml:"enabled,omitempty"`
	AppName   string `koanf:"app_name" yaml:"app_name"`
	TimeoutMS int    `koanf:"timeout_ms" yaml:"timeout_ms"`
	Sound     string `koanf:"sound" yaml:"sound"`
}

// WebhookConfig posts notifications as JSON.
type WebhookConfig struct {
	URL   string `koanf:"url" yaml:"url"`
	Token string `koanf:"token" yaml:"token"`
}

// SlackConfig posts notifications to a Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url" yaml:"webhook_url"`
	Channel    string `koanf:"channel" yaml:"channel"`
}

// NATSConfig publishes notifications to a NATS subject.
type NATSConfig struct {
	// Servers is a comma-separated list of NATS server URLs.
	Servers  string `koanf:"servers" yaml:"servers"`
	NKeySeed string `koanf:"nkey_seed" yaml:"nkey_seed"`
	Subject  string `koanf:"subject" yaml:"subject"`
}

// StatusConfig configures the local HTTP status server.
type StatusConfig struct {
	// Listen is the address to bind, e.g. "127.0.0.1:9464". Empty disables the server.
	Listen string `koanf:"listen" yaml:"listen"`
}

// Validation errors returned by Load.
var (
	ErrInvalidPollInterval = errors.New("poll_interval_ms must be positive")
	ErrInvalidTimezone     = errors.New("timezone is not a known IANA zone")
	ErrInvalidLogFormat    = errors.New("log_format must be json or text")
	ErrInvalidQueueSize    = errors.New("dispatch.queue_size must be positive")
	ErrNATSSubjectRequired = errors.New("sinks.nats.subject is required when sinks.nats.servers is set")
)

// DefaultPath returns the config path: $NOTIFIER_CONFIG, or
// ~/.config/notifier/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(configHome(), "notifier", "config.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from path. A missing file yields the defaults.
// Returns an error if the file cannot be parsed or a value is invalid.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.NotificationsPath == "" {
		c.NotificationsPath = filepath.Join(configHome(), "notifier.yaml")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 500
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(dataHome(), "notifier")
	}
	if c.HistoryKeep == 0 {
		c.HistoryKeep = 1000
	}
	if c.Watch == nil {
		c.Watch = boolPtr(true)
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 64
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 1
	}
	if c.Dispatch.RatePerSecond == 0 {
		c.Dispatch.RatePerSecond = 5
	}
	if c.Dispatch.Burst <= 0 {
		c.Dispatch.Burst = 5
	}
	if c.Sinks.Log == nil {
		c.Sinks.Log = boolPtr(true)
	}
	if c.Sinks.Desktop.Enabled == nil {
		c.Sinks.Desktop.Enabled = boolPtr(true)
	}
	if c.Sinks.Desktop.AppName == "" {
		c.Sinks.Desktop.AppName = "Notifier"
	}
	if c.Sinks.Desktop.Sound == "" {
		c.Sinks.Desktop.Sound = "dialog-information"
	}
}

// validate checks that configured values are usable.
func (c *Config) validate() error {
	if c.PollIntervalMS < 0 {
		return ErrInvalidPollInterval
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return ErrInvalidLogFormat
	}
	if c.Dispatch.QueueSize < 0 {
		return ErrInvalidQueueSize
	}
	if c.Sinks.NATS.Servers != "" && c.Sinks.NATS.Subject == "" {
		return ErrNATSSubjectRequired
	}
	return nil
}

// Save writes the configuration to path as YAML, creating the directory.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may hold webhook tokens and NKey seeds.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}

// PollInterval returns the tick cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Location resolves Timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	return loc, nil
}

// WatchEnabled reports whether the notifications file is watched.
func (c *Config) WatchEnabled() bool { return c.Watch == nil || *c.Watch }

// LogSinkEnabled reports whether notifications are also written to the log.
func (c *Config) LogSinkEnabled() bool { return c.Sinks.Log == nil || *c.Sinks.Log }

// DesktopEnabled reports whether desktop notifications are sent.
func (c *Config) DesktopEnabled() bool {
	return c.Sinks.Desktop.Enabled == nil || *c.Sinks.Desktop.Enabled
}

// HistoryPath is the bbolt file recording deliveries.
func (c *Config) HistoryPath() string { return filepath.Join(c.DataDir, "history.db") }

// PIDPath is the single-instance pid file.
func (c *Config) PIDPath() string { return filepath.Join(c.DataDir, "notifier.pid") }

func configHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}

func boolPtr(b bool) *bool { return &b }
