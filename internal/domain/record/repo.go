package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRecordRepository interface {
	// Upsert writes a record by its natural key. It returns true when a new
	// row was inserted and false when an existing row was updated. Concurrent
	// writers racing on the same key never both insert.
	Upsert(ctx context.Context, rec *PatientRecord) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	GetByNaturalKey(ctx context.Context, sourceRecordID, sourceSystem string) (*PatientRecord, error)
	List(ctx context.Context, sourceSystem string, limit, offset int) ([]*PatientRecord, int, error)
	// StatsForPeriod aggregates quality statistics for records processed on
	// the given day for one source system.
	StatsForPeriod(ctx context.Context, day time.Time, sourceSystem string) (*QualityStats, error)
}
