package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"

	"github.com/DukeRupert/meterline/internal/domain"
)

//go:embed templates/*.txt
var templateFS embed.FS

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // empty for Mailhog
	Password string
	From     string
	FromName string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails alerts to a fixed operations address.
type SMTPNotifier struct {
	config    SMTPConfig
	to        string
	templates *template.Template
	logger    *slog.Logger
	send      sendFunc
}

// NewSMTPNotifier creates a notifier that mails every alert to `to`.
func NewSMTPNotifier(config SMTPConfig, to string, logger *slog.Logger) (*SMTPNotifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse alert templates: %w", err)
	}

	return &SMTPNotifier{
		config:    config,
		to:        to,
		templates: tmpl,
		logger:    logger,
		send:      smtp.SendMail,
	}, nil
}

func (n *SMTPNotifier) DowngradeBlocked(ctx context.Context, b domain.BlockedDowngrade) error {
	body, err := n.render("downgrade_blocked.txt", b)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Downgrade blocked: %s -> %s (%s)", b.Change.FromPlan, b.Change.ToPlan, b.Reason)
	return n.deliver(ctx, subject, body)
}

func (n *SMTPNotifier) OverageChargeFailed(ctx context.Context, c domain.OverageCharge) error {
	body, err := n.render("overage_failed.txt", struct {
		Charge domain.OverageCharge
		Period string
		Amount string
	}{
		Charge: c,
		Period: c.PeriodKey(),
		Amount: domain.FormatCents(c.AmountCents, c.Currency),
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Overage charge failed for subscriber %s", c.SubscriberID)
	return n.deliver(ctx, subject, body)
}

func (n *SMTPNotifier) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := n.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// deliver sends a plain-text message via SMTP.
func (n *SMTPNotifier) deliver(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)

	var auth smtp.Auth
	if n.config.Username != "" && n.config.Password != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}

	if err := n.send(addr, auth, n.config.From, []string{n.to}, n.buildMessage(subject, body)); err != nil {
		n.logger.Error("failed to send alert",
			"to", n.to,
			"subject", subject,
			"error", err,
		)
		return fmt.Errorf("failed to send alert: %w", err)
	}

	n.logger.Info("alert sent",
		"to", n.to,
		"subject", subject,
	)
	return nil
}

func (n *SMTPNotifier) buildMessage(subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", n.config.FromName, n.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", n.to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

var _ Notifier = (*SMTPNotifier)(nil)
