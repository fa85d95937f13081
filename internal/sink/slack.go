package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/doughall/notifier/internal/scheduler"
	"github.com/slack-go/slack"
)

// Slack posts messages to a Slack incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	httpClient *http.Client
}

// NewSlack creates a Slack sink. channel overrides the webhook's default
// channel when set.
func NewSlack(webhookURL, channel string) (*Slack, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("%w: slack webhook url is empty", ErrNotConfigured)
	}
	return &Slack{
		webhookURL: webhookURL,
		channel:    channel,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Deliver(ctx context.Context, msg Message) error {
	wm := &slack.WebhookMessage{
		Channel: s.channel,
		Text:    msg.Label,
		Attachments: []slack.Attachment{{
			Color:  colorFor(msg.Level),
			Footer: msg.Title(),
			Ts:     json.Number(strconv.FormatInt(msg.ScheduledAt.Unix(), 10)),
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, wm); err != nil {
		return fmt.Errorf("slack webhook failed: %w", err)
	}
	return nil
}

func colorFor(level scheduler.Level) string {
	switch level {
	case scheduler.LevelCritical:
		return "danger"
	case scheduler.LevelWarning:
		return "warning"
	default:
		return "good"
	}
}
