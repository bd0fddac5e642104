package metrics

import (
	"context"
	"time"
)

type MetricsRepository interface {
	// Upsert writes the aggregate for its (metric date, source system) key,
	// replacing any previous rollup of the same period.
	Upsert(ctx context.Context, agg *Aggregate) error
	GetForDate(ctx context.Context, day time.Time, sourceSystem string) (*Aggregate, error)
	// Trend returns aggregates for a source ordered by date ascending.
	Trend(ctx context.Context, sourceSystem string, from, to time.Time) ([]*Aggregate, error)
}
