// Package config assembles the service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/server-common/hermes/internal/dispatch"
	"github.com/server-common/hermes/pkg/db"
	"github.com/server-common/hermes/pkg/logger"
	"github.com/server-common/hermes/pkg/mailer/resend"
	"github.com/server-common/hermes/pkg/mailer/smtp"
)

// MailerSMTP and MailerResend are the supported transport providers.
const (
	MailerSMTP   = "smtp"
	MailerResend = "resend"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	RedisURL string `env:"REDIS_URL,required"`

	// Transport provider selection: smtp or resend.
	MailerProvider string `env:"MAILER_PROVIDER" envDefault:"smtp"`

	// Admit requests when quota state cannot be read.
	RateLimitFailOpen bool `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`

	DB       db.Config
	Sentry   logger.SentryConfig
	SMTP     smtp.Config
	Resend   resend.Config
	Dispatch dispatch.Config
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MailerProvider != MailerSMTP && cfg.MailerProvider != MailerResend {
		return Config{}, fmt.Errorf("unknown MAILER_PROVIDER %q", cfg.MailerProvider)
	}
	return cfg, nil
}
