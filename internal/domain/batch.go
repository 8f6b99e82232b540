package domain

import "time"

// BatchStatus is the admission outcome of a bulk send.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// BulkBatch records the admission-time outcome of a bulk send: how many
// recipients were accepted into the queue. It deliberately does NOT track
// eventual delivery; the delivery worker never touches it.
type BulkBatch struct {
	ID           string
	BatchID      string
	GroupKey     string
	TotalCount   int
	SuccessCount int
	FailedCount  int
	Status       BatchStatus
	TemplateName *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}
