package notify

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
)

// EmailNotifier 通过 SMTP 发送告警邮件。
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier creates an email notifier from SMTP settings.
// Missing settings are tolerated; Send becomes a no-op with a warning.
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

// Send sends a plain-text alert mail. A missing SMTP configuration is
// not an error; the notification is skipped so runs are never blocked
// on alerting.
func (n *EmailNotifier) Send(ctx context.Context, subject, body string) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" || n.cfg.ToEmail == "" {
		n.logger.Warn("email config missing, skip notification", "subject", subject)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain; charset=UTF-8", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send notification mail: %w", err)
	}
	n.logger.Info("notification mail sent", "to", n.cfg.ToEmail, "subject", subject)
	return nil
}
