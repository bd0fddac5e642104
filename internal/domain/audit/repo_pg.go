package audit

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

type AuditRepoPG struct {
	pool *pgxpool.Pool
}

func NewAuditRepoPG(pool *pgxpool.Pool) *AuditRepoPG {
	return &AuditRepoPG{pool: pool}
}

func (r *AuditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const auditCols = `id, operation, resource_type, resource_id, status, duration_ms,
	error_detail, metadata, batch_id, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.Operation, &e.ResourceType, &e.ResourceID, &e.Status, &e.DurationMS,
		&e.ErrorDetail, &e.Metadata, &e.BatchID, &e.CreatedAt,
	)
	return &e, err
}

func (r *AuditRepoPG) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	q := `INSERT INTO audit_log
		(id, operation, resource_type, resource_id, status, duration_ms, error_detail, metadata, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.conn(ctx).QueryRow(ctx, q,
		entry.ID, entry.Operation, entry.ResourceType, entry.ResourceID, entry.Status,
		entry.DurationMS, entry.ErrorDetail, entry.Metadata, entry.BatchID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_log WHERE id = $1", auditCols)
	return scanEntry(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *AuditRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if v, ok := params["operation"]; ok {
		where = append(where, fmt.Sprintf("operation = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["status"]; ok {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["batch"]; ok {
		where = append(where, fmt.Sprintf("batch_id = $%d", idx))
		args = append(args, v)
		idx++
	}
	if v, ok := params["resource-type"]; ok {
		where = append(where, fmt.Sprintf("resource_type = $%d", idx))
		args = append(args, v)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_log %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_log %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		auditCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *AuditRepoPG) CountByOperation(ctx context.Context, since time.Time) (map[string]int, error) {
	q := `SELECT operation, COUNT(*) FROM audit_log WHERE created_at >= $1 GROUP BY operation`

	rows, err := r.conn(ctx).Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		counts[op] = n
	}
	return counts, nil
}

func (r *AuditRepoPG) CountOutcomes(ctx context.Context, day time.Time, sourceSystem string) (*OutcomeCounts, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	q := `SELECT
		COUNT(*) FILTER (WHERE a.status = 'error'),
		COUNT(*) FILTER (WHERE a.status = 'warning')
		FROM audit_log a
		JOIN sync_batch b ON b.id = a.batch_id
		WHERE b.source_system = $1 AND a.created_at >= $2 AND a.created_at < $3`

	var counts OutcomeCounts
	if err := r.conn(ctx).QueryRow(ctx, q, sourceSystem, from, to).Scan(&counts.Errors, &counts.Warnings); err != nil {
		return nil, fmt.Errorf("count audit outcomes: %w", err)
	}
	return &counts, nil
}
