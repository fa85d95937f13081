package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doughall/notifier/internal/version"
	"github.com/hashicorp/go-retryablehttp"
)

// Webhook POSTs each message as JSON to a URL, retrying transient failures.
type Webhook struct {
	url        string
	token      string
	httpClient *http.Client
}

// WebhookOption customises a Webhook.
type WebhookOption func(*retryablehttp.Client)

// WithRetry overrides the retry count and wait bounds.
func WithRetry(max int, waitMin, waitMax time.Duration) WebhookOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = max
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// NewWebhook creates a webhook sink. token, when set, is sent as a Bearer
// token.
func NewWebhook(url, token string, opts ...WebhookOption) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: webhook url is empty", ErrNotConfigured)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.LinearJitterBackoff
	// slog is used instead
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 15 * time.Second

	for _, opt := range opts {
		opt(retryClient)
	}

	return &Webhook{
		url:        url,
		token:      token,
		httpClient: retryClient.StandardClient(),
	}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Deliver(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "notifier/"+version.Version)
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}
	return nil
}
