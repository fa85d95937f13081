package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/doughall/notifier/internal/sink"
)

// EnvelopeTypeNotification is the envelope type of a fired notification.
const EnvelopeTypeNotification = "notification"

// MessageEnvelope wraps published messages with type information.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Publisher is the NATS notification sink.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

// NewPublisher creates a publisher on client.
func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		logger: logger,
	}
}

func (p *Publisher) Name() string { return "nats" }

// Deliver publishes msg and waits for the server to acknowledge the flush.
func (p *Publisher) Deliver(ctx context.Context, msg sink.Message) error {
	nc := p.client.Connection()
	if nc == nil {
		return ErrNotConnected
	}

	data, err := encode(msg, time.Now())
	if err != nil {
		return err
	}

	subject := p.client.Subject()
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	p.logger.Debug("Published notification",
		slog.String("subject", subject),
		slog.String("job_id", msg.JobID.String()),
	)
	return nil
}

func encode(msg sink.Message, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := MessageEnvelope{
		Type:      EnvelopeTypeNotification,
		Payload:   payload,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}
