package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig configures the email channel
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SendMailFunc has the signature of smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends plain-text alert emails over SMTP
type EmailChannel struct {
	cfg      SMTPConfig
	sendMail SendMailFunc
}

// NewEmailChannel creates an email channel using smtp.SendMail
func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

// WithSendMail replaces the SMTP transport
func (c *EmailChannel) WithSendMail(fn SendMailFunc) *EmailChannel {
	c.sendMail = fn
	return c
}

func (c *EmailChannel) Name() string { return ChannelEmail }

// Subject renders "[SEVERITY] Alert: <rule name>"
func Subject(n Notification) string {
	return fmt.Sprintf("[%s] Alert: %s", strings.ToUpper(string(n.Severity)), n.RuleName)
}

// Body renders the plain-text email body
func Body(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", n.Message)
	fmt.Fprintf(&b, "Rule: %s (%s)\n", n.RuleName, n.RuleType)
	fmt.Fprintf(&b, "Severity: %s\n", n.Severity)
	if n.Marketplace != "" {
		fmt.Fprintf(&b, "Marketplace: %s\n", n.Marketplace)
	}
	fmt.Fprintf(&b, "Value: %g (threshold %g)\n", n.Value, n.Threshold)
	fmt.Fprintf(&b, "Time: %s\n", n.Timestamp.UTC().Format(time.RFC1123))
	return b.String()
}

func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	if len(c.cfg.To) == 0 {
		return fmt.Errorf("email channel has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", Subject(n))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(Body(n), "\n", "\r\n"))

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if err := c.sendMail(addr, auth, c.cfg.From, c.cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
