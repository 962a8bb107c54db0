package alert

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// EmailSettings is everything needed to deliver over SMTP. Credentials
// normally arrive via SENDER_EMAIL / SENDER_PASSWORD / RECIPIENT_EMAIL.
type EmailSettings struct {
	Server    string
	Port      int
	Sender    string
	Password  string
	Recipient string
}

// Validate reports every missing credential at once so the startup
// warning tells the operator the full story.
func (s EmailSettings) Validate() error {
	var errs []error
	if s.Sender == "" {
		errs = append(errs, errors.New("sender address is not set (SENDER_EMAIL)"))
	}
	if s.Password == "" {
		errs = append(errs, errors.New("sender password is not set (SENDER_PASSWORD)"))
	}
	if s.Recipient == "" {
		errs = append(errs, errors.New("recipient address is not set (RECIPIENT_EMAIL)"))
	}
	return errors.Join(errs...)
}

// EmailChannel sends alerts as HTML mail. Incomplete settings fail at
// send time, not construction time; the service runs fine without
// credentials, it just cannot deliver.
type EmailChannel struct {
	settings EmailSettings
	log      logx.Logger
}

func NewEmail(settings EmailSettings, log logx.Logger) *EmailChannel {
	return &EmailChannel{settings: settings, log: log.With(logx.String("comp", "email"))}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, msg *Message) error {
	if err := c.settings.Validate(); err != nil {
		return fmt.Errorf("email config: %w", err)
	}

	m := email.NewEmail()
	m.From = fmt.Sprintf("Price Alert <%s>", c.settings.Sender)
	m.To = []string{c.settings.Recipient}
	m.Subject = msg.Subject
	m.HTML = []byte(msg.HTML)

	addr := fmt.Sprintf("%s:%d", c.settings.Server, c.settings.Port)
	auth := smtp.PlainAuth("", c.settings.Sender, c.settings.Password, c.settings.Server)

	c.log.Debug("sending alert email",
		logx.String("to", c.settings.Recipient),
		logx.String("subject", msg.Subject))

	// Port 465 is implicit TLS; everything else goes through STARTTLS.
	if c.settings.Port == 465 {
		if err := m.SendWithTLS(addr, auth, &tls.Config{ServerName: c.settings.Server}); err != nil {
			return fmt.Errorf("send via %s: %w", addr, err)
		}
		return nil
	}
	if err := m.Send(addr, auth); err != nil {
		return fmt.Errorf("send via %s: %w", addr, err)
	}
	return nil
}
