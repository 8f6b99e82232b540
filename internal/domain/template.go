package domain

import "time"

// Template is a tenant-scoped mail template with {{key}} placeholders in
// both subject and content.
type Template struct {
	ID          string
	GroupKey    string
	Name        string
	Subject     string
	Content     string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Setting is one tenant-scoped configuration row. Rows with an empty
// GroupKey act as global defaults that tenant rows override.
type Setting struct {
	ID          string
	GroupKey    string
	Key         string
	Value       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
