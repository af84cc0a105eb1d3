package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/marketsync/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type SlackMessage struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var severityColors = map[domain.Severity]string{
	domain.SeverityLow:      "#36a64f",
	domain.SeverityMedium:   "#ffcc00",
	domain.SeverityHigh:     "#ff8800",
	domain.SeverityCritical: "#ff0000",
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *SlackChannel) Name() string { return ChannelSlack }

// FormatSlack builds the attachment message of a notification
func FormatSlack(n Notification) SlackMessage {
	title := cases.Title(language.English).String(strings.ReplaceAll(n.RuleType, "_", " "))

	fields := []Field{
		{Title: "Severity", Value: strings.ToUpper(string(n.Severity)), Short: true},
		{Title: "Type", Value: title, Short: true},
		{Title: "Value", Value: fmt.Sprintf("%g", n.Value), Short: true},
		{Title: "Threshold", Value: fmt.Sprintf("%g", n.Threshold), Short: true},
	}
	if n.Marketplace != "" {
		fields = append(fields, Field{
			Title: "Marketplace",
			Value: cases.Title(language.English).String(n.Marketplace),
			Short: true,
		})
	}

	color, ok := severityColors[n.Severity]
	if !ok {
		color = "#808080"
	}

	return SlackMessage{
		Text: fmt.Sprintf("Alert: %s", n.RuleName),
		Attachments: []Attachment{
			{
				Color:  color,
				Text:   n.Message,
				Fields: fields,
				Footer: "marketsync",
				Ts:     n.Timestamp.Unix(),
			},
		},
	}
}

func (c *SlackChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(FormatSlack(n))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
