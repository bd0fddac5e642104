// Package sync drives resumable batch extraction from a clinical source.
// A Batch row is the single source of truth for resume state: it is persisted
// after every page, so a crash mid-run leaves a durable cursor to pick up
// from.
package sync

import (
	"time"

	"github.com/google/uuid"
)

// Batch statuses. A batch starts running; the other three are terminal for
// the run itself, though failed and cancelled batches may be reopened by an
// explicit resume.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Batch struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	SourceSystem      string     `db:"source_system" json:"source_system"`
	Endpoint          string     `db:"endpoint" json:"endpoint"`
	PageSize          int        `db:"page_size" json:"page_size"`
	Status            string     `db:"status" json:"status"`
	StartedAt         time.Time  `db:"started_at" json:"started_at"`
	EndedAt           *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	TotalRecords      int        `db:"total_records" json:"total_records"`
	SuccessfulRecords int        `db:"successful_records" json:"successful_records"`
	FailedRecords     int        `db:"failed_records" json:"failed_records"`
	LastProcessedPage int        `db:"last_processed_page" json:"last_processed_page"`
	NextCursor        *string    `db:"next_cursor" json:"next_cursor,omitempty"`
	ErrorMessage      *string    `db:"error_message" json:"error_message,omitempty"`
	CancelRequested   bool       `db:"cancel_requested" json:"cancel_requested"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the batch has finished its run.
func (b *Batch) Terminal() bool {
	return b.Status != StatusRunning
}

// SourceConfig describes one extraction target.
type SourceConfig struct {
	Endpoint     string `json:"endpoint"`
	SourceSystem string `json:"source_system"`
	PageSize     int    `json:"page_size"`
}
