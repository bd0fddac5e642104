// Package record stores scored patient documents. One row exists per
// (source record id, source system) natural key; re-ingesting a key updates
// the stored row instead of creating a duplicate.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinsync/clinsync/internal/platform/fhir"
)

type PatientRecord struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	SourceRecordID string        `db:"source_record_id" json:"source_record_id"`
	SourceSystem   string        `db:"source_system" json:"source_system"`
	Document       fhir.Document `db:"document" json:"document"`
	QualityScore   float64       `db:"quality_score" json:"quality_score"`
	QualityFlags   []string      `db:"quality_flags" json:"quality_flags,omitempty"`
	BatchID        uuid.UUID     `db:"batch_id" json:"batch_id"`
	ProcessedAt    time.Time     `db:"processed_at" json:"processed_at"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// QualityStats summarizes the stored records of one source system over a
// period. Tier cutoffs match the scorer's reporting buckets: high is good or
// better, medium is fair, low is poor.
type QualityStats struct {
	TotalRecords int     `json:"total_records"`
	AverageScore float64 `json:"average_score"`
	HighCount    int     `json:"high_count"`
	MediumCount  int     `json:"medium_count"`
	LowCount     int     `json:"low_count"`
}
