package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/domain/audit"
	"github.com/clinsync/clinsync/internal/domain/record"
	"github.com/clinsync/clinsync/internal/platform/db"
)

type Service struct {
	pool    *pgxpool.Pool
	repo    MetricsRepository
	records record.PatientRecordRepository
	audits  audit.AuditRepository
	log     zerolog.Logger
}

// NewService wires the rollup over its source repositories. pool may be nil;
// when present the rollup's reads and write share one transaction.
func NewService(pool *pgxpool.Pool, repo MetricsRepository, records record.PatientRecordRepository, audits audit.AuditRepository, log zerolog.Logger) *Service {
	return &Service{pool: pool, repo: repo, records: records, audits: audits, log: log}
}

// Rollup recomputes the aggregate for one day and source system from stored
// records and audit entries. It is idempotent: re-running for the same period
// replaces the previous rollup rather than accumulating into it.
func (s *Service) Rollup(ctx context.Context, day time.Time, sourceSystem string) (*Aggregate, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var agg *Aggregate
	compute := func(ctx context.Context) error {
		stats, err := s.records.StatsForPeriod(ctx, day, sourceSystem)
		if err != nil {
			return fmt.Errorf("rollup %s/%s: %w", sourceSystem, day.Format("2006-01-02"), err)
		}
		outcomes, err := s.audits.CountOutcomes(ctx, day, sourceSystem)
		if err != nil {
			return fmt.Errorf("rollup %s/%s: %w", sourceSystem, day.Format("2006-01-02"), err)
		}

		agg = &Aggregate{
			MetricDate:   day,
			SourceSystem: sourceSystem,
			TotalRecords: stats.TotalRecords,
			AverageScore: stats.AverageScore,
			HighCount:    stats.HighCount,
			MediumCount:  stats.MediumCount,
			LowCount:     stats.LowCount,
			ErrorCount:   outcomes.Errors,
			WarningCount: outcomes.Warnings,
		}
		return s.repo.Upsert(ctx, agg)
	}

	var err error
	if s.pool != nil {
		err = db.WithTx(ctx, s.pool, compute)
	} else {
		err = compute(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("source_system", sourceSystem).
		Str("metric_date", day.Format("2006-01-02")).
		Int("total_records", agg.TotalRecords).
		Float64("average_score", agg.AverageScore).
		Msg("quality metrics rolled up")

	return agg, nil
}

func (s *Service) GetForDate(ctx context.Context, day time.Time, sourceSystem string) (*Aggregate, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.GetForDate(ctx, day, sourceSystem)
}

func (s *Service) Trend(ctx context.Context, sourceSystem string, from, to time.Time) ([]*Aggregate, error) {
	return s.repo.Trend(ctx, sourceSystem, from, to)
}
