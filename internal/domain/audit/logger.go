package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the fire-and-forget audit writer used by the pipeline. A failed
// audit write never aborts the operation it describes; it is downgraded to a
// structured warning.
type Logger struct {
	repo AuditRepository
	log  zerolog.Logger
}

func NewLogger(repo AuditRepository, log zerolog.Logger) *Logger {
	return &Logger{repo: repo, log: log}
}

// Record appends an entry, swallowing persistence failures.
func (l *Logger) Record(ctx context.Context, entry *Entry) {
	if l == nil || l.repo == nil {
		return
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn().
			Err(err).
			Str("operation", entry.Operation).
			Str("batch_id", entry.BatchID.String()).
			Msg("audit write failed")
	}
}

// Operation records a completed operation with its duration.
func (l *Logger) Operation(ctx context.Context, batchID uuid.UUID, op, resourceType, status string, took time.Duration, meta map[string]interface{}) {
	l.Record(ctx, &Entry{
		Operation:    op,
		ResourceType: resourceType,
		Status:       status,
		DurationMS:   took.Milliseconds(),
		Metadata:     meta,
		BatchID:      batchID,
	})
}

// Failure records a failed operation against a specific resource.
func (l *Logger) Failure(ctx context.Context, batchID uuid.UUID, op, resourceType string, resourceID string, opErr error) {
	var rid *string
	if resourceID != "" {
		rid = &resourceID
	}
	detail := opErr.Error()
	l.Record(ctx, &Entry{
		Operation:    op,
		ResourceType: resourceType,
		ResourceID:   rid,
		Status:       StatusError,
		ErrorDetail:  &detail,
		BatchID:      batchID,
	})
}
