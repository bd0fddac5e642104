package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type BatchRepoPG struct {
	pool *pgxpool.Pool
}

func NewBatchRepoPG(pool *pgxpool.Pool) *BatchRepoPG {
	return &BatchRepoPG{pool: pool}
}

func (r *BatchRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const batchCols = `id, source_system, endpoint, page_size, status, started_at, ended_at,
	total_records, successful_records, failed_records, last_processed_page,
	next_cursor, error_message, cancel_requested, created_at, updated_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.SourceSystem, &b.Endpoint, &b.PageSize, &b.Status, &b.StartedAt, &b.EndedAt,
		&b.TotalRecords, &b.SuccessfulRecords, &b.FailedRecords, &b.LastProcessedPage,
		&b.NextCursor, &b.ErrorMessage, &b.CancelRequested, &b.CreatedAt, &b.UpdatedAt,
	)
	return &b, err
}

// A partial unique index on (source_system) WHERE status = 'running' enforces
// the single-active-batch rule; its violations surface as 23505.
func isActiveBatchConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *BatchRepoPG) Create(ctx context.Context, b *Batch) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	q := `INSERT INTO sync_batch
		(id, source_system, endpoint, page_size, status, started_at,
		 total_records, successful_records, failed_records, last_processed_page, next_cursor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.conn(ctx).QueryRow(ctx, q,
		b.ID, b.SourceSystem, b.Endpoint, b.PageSize, b.Status, b.StartedAt,
		b.TotalRecords, b.SuccessfulRecords, b.FailedRecords, b.LastProcessedPage, b.NextCursor,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if isActiveBatchConflict(err) {
			return ErrSourceBusy
		}
		return fmt.Errorf("create batch for %s: %w", b.SourceSystem, err)
	}
	return nil
}

func (r *BatchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	q := fmt.Sprintf("SELECT %s FROM sync_batch WHERE id = $1", batchCols)
	return scanBatch(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *BatchRepoPG) Update(ctx context.Context, b *Batch) error {
	q := `UPDATE sync_batch SET
		status = $2, ended_at = $3, total_records = $4, successful_records = $5,
		failed_records = $6, last_processed_page = $7, next_cursor = $8,
		error_message = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.conn(ctx).QueryRow(ctx, q,
		b.ID, b.Status, b.EndedAt, b.TotalRecords, b.SuccessfulRecords,
		b.FailedRecords, b.LastProcessedPage, b.NextCursor,
		b.ErrorMessage,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	return nil
}

func (r *BatchRepoPG) Reopen(ctx context.Context, id uuid.UUID) (*Batch, error) {
	q := fmt.Sprintf(`UPDATE sync_batch SET
		status = 'running', ended_at = NULL, error_message = NULL,
		cancel_requested = false, updated_at = now()
		WHERE id = $1 AND status IN ('failed', 'cancelled', 'running')
		RETURNING %s`, batchCols)

	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, q, id))
	if err != nil {
		if isActiveBatchConflict(err) {
			return nil, ErrSourceBusy
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotResumable
		}
		return nil, fmt.Errorf("reopen batch %s: %w", id, err)
	}
	return b, nil
}

func (r *BatchRepoPG) List(ctx context.Context, status, sourceSystem string, limit, offset int) ([]*Batch, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, status)
		idx++
	}
	if sourceSystem != "" {
		where = append(where, fmt.Sprintf("source_system = $%d", idx))
		args = append(args, sourceSystem)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM sync_batch %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM sync_batch %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		batchCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, nil
}

func (r *BatchRepoPG) RequestCancel(ctx context.Context, id uuid.UUID) error {
	q := `UPDATE sync_batch SET cancel_requested = true, updated_at = now()
		WHERE id = $1 AND status = 'running'`

	tag, err := r.conn(ctx).Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("request cancel for batch %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRunning
	}
	return nil
}
