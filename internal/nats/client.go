// Package nats publishes fired notifications to a NATS subject so other
// machines and services can react to them.
//
// Usage:
//
//	client := nats.NewClient(cfg, logger)
//	err := client.Connect()
//	defer client.Close()
//	pub := nats.NewPublisher(client, logger)
package nats

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("nats not connected")

// Config holds NATS connection configuration.
type Config struct {
	Servers  string // Comma-separated list of NATS server URLs
	NKeySeed string // Optional NKey user seed (starts with SU)
	Subject  string // Subject notifications are published on
	Name     string // Connection name shown by the server
}

// Client owns the NATS connection.
type Client struct {
	config    Config
	nc        *nats.Conn
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
}

// NewClient creates a client. Call Connect before publishing.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "notifier"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger,
	}
}

// Connect dials the configured servers.
func (c *Client) Connect() error {
	opts, err := c.options()
	if err != nil {
		return err
	}

	nc, err := nats.Connect(c.config.Servers, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("NATS connected",
		slog.String("server", nc.ConnectedUrl()),
		slog.String("subject", c.config.Subject),
	)
	return nil
}

func (c *Client) options() ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.PingInterval(30 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.setConnected(false)
			if err != nil {
				c.logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			} else {
				c.logger.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setConnected(true)
			c.logger.Info("NATS reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}

	if c.config.NKeySeed != "" {
		kp, err := nkeys.FromSeed([]byte(c.config.NKeySeed))
		if err != nil {
			return nil, fmt.Errorf("invalid nkey seed: %w", err)
		}
		pubKey, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		opts = append(opts, nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
			return kp.Sign(nonce)
		}))
	}
	return opts, nil
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connection returns the underlying connection, or nil before Connect.
func (c *Client) Connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Subject returns the publish subject.
func (c *Client) Subject() string { return c.config.Subject }

// Close drains pending publishes and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
	c.nc = nil
	c.connected = false
}
