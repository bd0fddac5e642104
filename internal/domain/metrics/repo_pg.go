package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinsync/clinsync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type MetricsRepoPG struct {
	pool *pgxpool.Pool
}

func NewMetricsRepoPG(pool *pgxpool.Pool) *MetricsRepoPG {
	return &MetricsRepoPG{pool: pool}
}

func (r *MetricsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const metricsCols = `id, metric_date, source_system, total_records, average_score,
	high_count, medium_count, low_count, error_count, warning_count, created_at, updated_at`

func scanAggregate(row pgx.Row) (*Aggregate, error) {
	var a Aggregate
	err := row.Scan(
		&a.ID, &a.MetricDate, &a.SourceSystem, &a.TotalRecords, &a.AverageScore,
		&a.HighCount, &a.MediumCount, &a.LowCount, &a.ErrorCount, &a.WarningCount, &a.CreatedAt, &a.UpdatedAt,
	)
	return &a, err
}

func (r *MetricsRepoPG) Upsert(ctx context.Context, agg *Aggregate) error {
	if agg.ID == uuid.Nil {
		agg.ID = uuid.New()
	}

	q := `INSERT INTO quality_metrics
		(id, metric_date, source_system, total_records, average_score,
		 high_count, medium_count, low_count, error_count, warning_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (metric_date, source_system) DO UPDATE SET
			total_records = EXCLUDED.total_records,
			average_score = EXCLUDED.average_score,
			high_count = EXCLUDED.high_count,
			medium_count = EXCLUDED.medium_count,
			low_count = EXCLUDED.low_count,
			error_count = EXCLUDED.error_count,
			warning_count = EXCLUDED.warning_count,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.conn(ctx).QueryRow(ctx, q,
		agg.ID, agg.MetricDate, agg.SourceSystem, agg.TotalRecords, agg.AverageScore,
		agg.HighCount, agg.MediumCount, agg.LowCount, agg.ErrorCount, agg.WarningCount,
	).Scan(&agg.ID, &agg.CreatedAt, &agg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert quality metrics for %s/%s: %w",
			agg.SourceSystem, agg.MetricDate.Format("2006-01-02"), err)
	}
	return nil
}

func (r *MetricsRepoPG) GetForDate(ctx context.Context, day time.Time, sourceSystem string) (*Aggregate, error) {
	q := fmt.Sprintf("SELECT %s FROM quality_metrics WHERE metric_date = $1 AND source_system = $2", metricsCols)
	return scanAggregate(r.conn(ctx).QueryRow(ctx, q, day, sourceSystem))
}

func (r *MetricsRepoPG) Trend(ctx context.Context, sourceSystem string, from, to time.Time) ([]*Aggregate, error) {
	q := fmt.Sprintf(`SELECT %s FROM quality_metrics
		WHERE source_system = $1 AND metric_date >= $2 AND metric_date <= $3
		ORDER BY metric_date ASC`, metricsCols)

	rows, err := r.conn(ctx).Query(ctx, q, sourceSystem, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Aggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, nil
}
