// Package smtp implements mailer.Sender over an SMTP relay using gomail.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"

	"gopkg.in/gomail.v2"

	"github.com/server-common/hermes/pkg/mailer"
)

// Config holds SMTP relay configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Host               string `env:"SMTP_HOST" envDefault:"localhost"`
	Port               int    `env:"SMTP_PORT" envDefault:"587"`
	Username           string `env:"SMTP_USERNAME"`
	Password           string `env:"SMTP_PASSWORD"`
	SenderEmail        string `env:"SMTP_FROM_EMAIL" envDefault:"noreply@localhost"`
	SenderName         string `env:"SMTP_FROM_NAME"`
	InsecureSkipVerify bool   `env:"SMTP_INSECURE_SKIP_VERIFY" envDefault:"false"`
}

// Sender implements mailer.Sender over SMTP.
type Sender struct {
	dialer *gomail.Dialer
	config Config
}

// New creates a new SMTP sender.
func New(cfg Config) *Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Sender{dialer: d, config: cfg}
}

// Send implements mailer.Sender.
// gomail has no context support; the context is checked before dialing so a
// cancelled tick does not start a new SMTP session.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) error {
	if err := email.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()

	from := email.From
	if from == "" {
		from = mailer.Recipient(s.config.SenderName, s.config.SenderEmail)
	}
	msg.SetHeader("From", from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)
	if email.ReplyTo != "" {
		msg.SetHeader("Reply-To", email.ReplyTo)
	}

	if email.HTML != "" {
		msg.SetBody("text/html", email.HTML)
		if email.Text != "" {
			msg.AddAlternative("text/plain", email.Text)
		}
	} else {
		msg.SetBody("text/plain", email.Text)
	}

	if err := s.dialer.DialAndSend(msg); err != nil {
		return errors.Join(mailer.ErrSendFailed, err)
	}
	return nil
}

var _ mailer.Sender = (*Sender)(nil)
