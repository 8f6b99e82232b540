// Package domain holds the core entities shared by storage, admission, and
// the delivery pipeline.
package domain

import "time"

// MailStatus is the delivery state of a single outbound email.
// Transitions are one-way: pending -> sent or pending -> failed.
type MailStatus string

const (
	MailStatusPending MailStatus = "pending"
	MailStatusSent    MailStatus = "sent"
	MailStatusFailed  MailStatus = "failed"
)

// Valid reports whether s is a known mail status.
func (s MailStatus) Valid() bool {
	switch s {
	case MailStatusPending, MailStatusSent, MailStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further transition.
func (s MailStatus) Terminal() bool {
	return s == MailStatusSent || s == MailStatusFailed
}

// Mail is one outbound email's unit of work. The delivery worker is the only
// mutator of Status, SentAt, and ErrorMessage after creation.
type Mail struct {
	ID           string
	GroupKey     string
	Recipient    string
	Subject      string
	Content      string
	Status       MailStatus
	SentAt       *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
}
