package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/botparty/internal/config"
)

const (
	maxWebhookBody      = 1 << 20
	defaultAlertMention = "<!here>"
)

// PollError describes one failed webhook poll. The poll loop logs it and continues.
type PollError struct {
	URL    string
	Status int // 0 when the request itself failed
	Err    error
}

func (e *PollError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook poll %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("webhook poll %s: %v", e.URL, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// SendFunc is an agent's send path.
type SendFunc func(ctx context.Context, channel string, payload any)

// WebhookPollerConfig configures a new WebhookPoller.
type WebhookPollerConfig struct {
	Webhook        config.WebhookConfig
	DefaultChannel string
	Send           SendFunc
	Client         *http.Client
	Logger         *slog.Logger
}

// WebhookPoller periodically GETs a URL and relays payloads into chat.
type WebhookPoller struct {
	url            string
	interval       time.Duration
	timeout        time.Duration
	alertMention   string
	defaultChannel string
	send           SendFunc
	client         *http.Client
	log            *slog.Logger
}

// NewWebhookPoller creates a poller. Zero durations default to 5s.
func NewWebhookPoller(cfg WebhookPollerConfig) *WebhookPoller {
	p := &WebhookPoller{
		url:            cfg.Webhook.URL,
		interval:       cfg.Webhook.Interval,
		timeout:        cfg.Webhook.Timeout,
		alertMention:   cfg.Webhook.AlertMention,
		defaultChannel: cfg.DefaultChannel,
		send:           cfg.Send,
		client:         cfg.Client,
		log:            cfg.Logger,
	}
	if p.interval <= 0 {
		p.interval = 5 * time.Second
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	if p.alertMention == "" {
		p.alertMention = defaultAlertMention
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Run polls until ctx is cancelled. Errors are logged and the loop continues
// after the usual interval.
func (p *WebhookPoller) Run(ctx context.Context) {
	p.log.Info("webhook poller started", "url", p.url, "interval", p.interval)
	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("webhook poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			p.log.Info("webhook poller stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

// PollOnce performs one GET and relays its payload, if any.
func (p *WebhookPoller) PollOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err != nil {
		return &PollError{URL: p.url, Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &PollError{URL: p.url, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookBody))
		return &PollError{URL: p.url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		return &PollError{URL: p.url, Err: fmt.Errorf("read body: %w", err)}
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return &PollError{URL: p.url, Err: fmt.Errorf("decode body: %w", err)}
	}
	if isEmptyPayload(data) {
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		compact.Reset()
		compact.Write(body)
	}
	p.relay(ctx, data, compact.String())
	return nil
}

func (p *WebhookPoller) relay(ctx context.Context, data any, raw string) {
	if obj, ok := data.(map[string]any); ok {
		channel, _ := obj["channel"].(string)
		message, _ := obj["message"].(string)
		if channel != "" && message != "" {
			p.send(ctx, channel, message)
			return
		}
	}
	p.log.Warn("webhook payload without channel/message, alerting default channel")
	p.send(ctx, p.defaultChannel, fmt.Sprintf("Ut oh, got a webhook, %s can you check it out?", p.alertMention))
	p.send(ctx, p.defaultChannel, fmt.Sprintf("%s %s", p.alertMention, raw))
}

// isEmptyPayload reports JSON values that carry nothing to relay:
// null, false, 0, "", [] and {}.
func isEmptyPayload(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
