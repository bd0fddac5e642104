// Package metrics maintains the periodic quality rollups. Aggregates are
// derived data, recomputable at any time from stored records and audit
// entries; re-running a rollup replaces the row for its period.
package metrics

import (
	"time"

	"github.com/google/uuid"
)

type Aggregate struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MetricDate   time.Time `db:"metric_date" json:"metric_date"`
	SourceSystem string    `db:"source_system" json:"source_system"`
	TotalRecords int       `db:"total_records" json:"total_records"`
	AverageScore float64   `db:"average_score" json:"average_score"`
	HighCount    int       `db:"high_count" json:"high_count"`
	MediumCount  int       `db:"medium_count" json:"medium_count"`
	LowCount     int       `db:"low_count" json:"low_count"`
	ErrorCount   int       `db:"error_count" json:"error_count"`
	WarningCount int       `db:"warning_count" json:"warning_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
