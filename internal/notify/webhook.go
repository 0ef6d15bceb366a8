package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/go-resty/resty/v2"
)

// WebhookSink posts events as JSON to an HTTP endpoint, e.g. the hospital
// integration engine.
type WebhookSink struct {
	client *resty.Client
	url    string
}

func NewWebhookSink(cfg config.WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{client: client, url: cfg.URL}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Publish(ctx context.Context, ev Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", string(ev.Kind)).
		SetBody(ev).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
