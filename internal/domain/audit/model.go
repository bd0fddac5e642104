// Package audit records an immutable fact per notable pipeline operation.
// Entries are append-only and outlive the batches that produced them.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operation types.
const (
	OpFetch      = "fetch"
	OpValidate   = "validate"
	OpTransform  = "transform"
	OpStore      = "store"
	OpError      = "error"
	OpRetry      = "retry"
	OpBatchStart = "batch_start"
	OpBatchEnd   = "batch_end"
)

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
	StatusInfo    = "info"
)

type Entry struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	Operation    string                 `db:"operation" json:"operation"`
	ResourceType string                 `db:"resource_type" json:"resource_type"`
	ResourceID   *string                `db:"resource_id" json:"resource_id,omitempty"`
	Status       string                 `db:"status" json:"status"`
	DurationMS   int64                  `db:"duration_ms" json:"duration_ms"`
	ErrorDetail  *string                `db:"error_detail" json:"error_detail,omitempty"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	BatchID      uuid.UUID              `db:"batch_id" json:"batch_id"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

// OutcomeCounts is the error/warning tally fed into the metrics rollup.
type OutcomeCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}
