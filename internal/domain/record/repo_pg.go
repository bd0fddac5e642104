package record

import (
	"context"
	"fmt"
	"strings"
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

type PatientRecordRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRecordRepoPG(pool *pgxpool.Pool) *PatientRecordRepoPG {
	return &PatientRecordRepoPG{pool: pool}
}

func (r *PatientRecordRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const recordCols = `id, source_record_id, source_system, document, quality_score, quality_flags,
	batch_id, processed_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*PatientRecord, error) {
	var rec PatientRecord
	err := row.Scan(
		&rec.ID, &rec.SourceRecordID, &rec.SourceSystem, &rec.Document, &rec.QualityScore, &rec.QualityFlags,
		&rec.BatchID, &rec.ProcessedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return &rec, err
}

func (r *PatientRecordRepoPG) Upsert(ctx context.Context, rec *PatientRecord) (bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	q := `INSERT INTO patient_record
		(id, source_record_id, source_system, document, quality_score, quality_flags, batch_id, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_record_id, source_system) DO UPDATE SET
			document = EXCLUDED.document,
			quality_score = EXCLUDED.quality_score,
			quality_flags = EXCLUDED.quality_flags,
			batch_id = EXCLUDED.batch_id,
			processed_at = EXCLUDED.processed_at,
			updated_at = now()
		RETURNING (xmax = 0), id, created_at, updated_at`

	var created bool
	err := r.conn(ctx).QueryRow(ctx, q,
		rec.ID, rec.SourceRecordID, rec.SourceSystem, rec.Document, rec.QualityScore, rec.QualityFlags,
		rec.BatchID, rec.ProcessedAt,
	).Scan(&created, &rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert patient record %s/%s: %w", rec.SourceSystem, rec.SourceRecordID, err)
	}
	return created, nil
}

func (r *PatientRecordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM patient_record WHERE id = $1", recordCols)
	return scanRecord(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *PatientRecordRepoPG) GetByNaturalKey(ctx context.Context, sourceRecordID, sourceSystem string) (*PatientRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM patient_record WHERE source_record_id = $1 AND source_system = $2", recordCols)
	return scanRecord(r.conn(ctx).QueryRow(ctx, q, sourceRecordID, sourceSystem))
}

func (r *PatientRecordRepoPG) List(ctx context.Context, sourceSystem string, limit, offset int) ([]*PatientRecord, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if sourceSystem != "" {
		where = append(where, fmt.Sprintf("source_system = $%d", idx))
		args = append(args, sourceSystem)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM patient_record %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM patient_record %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d",
		recordCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, nil
}

func (r *PatientRecordRepoPG) StatsForPeriod(ctx context.Context, day time.Time, sourceSystem string) (*QualityStats, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	q := `SELECT COUNT(*),
		COALESCE(AVG(quality_score), 0),
		COUNT(*) FILTER (WHERE quality_score >= 0.7),
		COUNT(*) FILTER (WHERE quality_score >= 0.5 AND quality_score < 0.7),
		COUNT(*) FILTER (WHERE quality_score < 0.5)
		FROM patient_record
		WHERE source_system = $1 AND processed_at >= $2 AND processed_at < $3`

	var stats QualityStats
	err := r.conn(ctx).QueryRow(ctx, q, sourceSystem, from, to).Scan(
		&stats.TotalRecords, &stats.AverageScore, &stats.HighCount, &stats.MediumCount, &stats.LowCount,
	)
	if err != nil {
		return nil, fmt.Errorf("quality stats for %s on %s: %w", sourceSystem, from.Format("2006-01-02"), err)
	}
	return &stats, nil
}
