// Package mailer defines the outbound email message and the minimal Sender
// interface delivery adapters implement. Adapters live in subpackages
// (smtp, resend); the delivery pipeline depends only on Sender.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoRecipient indicates no recipient was specified.
	ErrNoRecipient = errors.New("email must have at least one recipient")

	// ErrNoSubject indicates no subject was provided.
	ErrNoSubject = errors.New("email must have a subject")

	// ErrNoContent indicates the email has neither HTML nor text content.
	ErrNoContent = errors.New("email must have content")

	// ErrSendFailed indicates the provider rejected or failed the delivery.
	ErrSendFailed = errors.New("failed to send email")
)

// Email represents a fully-prepared email message ready for sending.
type Email struct {
	From    string   // Sender in RFC 5322 form; adapters fall back to their configured default
	ReplyTo string   // Optional reply-to address
	Subject string   // Email subject
	HTML    string   // HTML body; preferred when set
	Text    string   // Plain text body or alternative
	To      []string // Recipients (at least one required)
}

// Validate checks the invariants every adapter relies on.
func (e *Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipient
	}
	if e.Subject == "" {
		return ErrNoSubject
	}
	if e.HTML == "" && e.Text == "" {
		return ErrNoContent
	}
	return nil
}

// Sender delivers a fully-prepared email message.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// Recipient formats a name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
