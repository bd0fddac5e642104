package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditRepository interface {
	// Create appends an entry. Entries are never updated or deleted.
	Create(ctx context.Context, entry *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error)
	// CountByOperation tallies entries per operation type since the given time.
	CountByOperation(ctx context.Context, since time.Time) (map[string]int, error)
	// CountOutcomes tallies error and warning entries for one source system
	// over a day, resolved through the owning batch.
	CountOutcomes(ctx context.Context, day time.Time, sourceSystem string) (*OutcomeCounts, error)
}
