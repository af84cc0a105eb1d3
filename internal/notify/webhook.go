package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuongbtq/marketsync/internal/signature"
)

// WebhookPayload is the JSON body posted to alert webhooks
type WebhookPayload struct {
	AlertName   string  `json:"alert_name"`
	AlertType   string  `json:"alert_type"`
	Severity    string  `json:"severity"`
	Message     string  `json:"message"`
	Timestamp   string  `json:"timestamp"`
	Marketplace string  `json:"marketplace,omitempty"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
}

// WebhookChannel posts alerts as JSON. With a secret the body is signed.
type WebhookChannel struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(url, secret string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (c *WebhookChannel) Name() string { return ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(WebhookPayload{
		AlertName:   n.RuleName,
		AlertType:   n.RuleType,
		Severity:    string(n.Severity),
		Message:     n.Message,
		Timestamp:   n.Timestamp.UTC().Format(time.RFC3339),
		Marketplace: n.Marketplace,
		Value:       n.Value,
		Threshold:   n.Threshold,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		ts := signature.Timestamp(c.now())
		req.Header.Set(signature.HeaderTimestamp, ts)
		req.Header.Set(signature.HeaderSignature, signature.Sign(c.secret, ts, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
