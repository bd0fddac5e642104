package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/domain/audit"
	"github.com/clinsync/clinsync/internal/domain/metrics"
	"github.com/clinsync/clinsync/internal/domain/record"
	"github.com/clinsync/clinsync/internal/platform/fhir"
	"github.com/clinsync/clinsync/internal/platform/source"
	"github.com/clinsync/clinsync/internal/quality"
)

// Fetcher retrieves one page of records from the source API.
type Fetcher interface {
	FetchPage(ctx context.Context, pageURL string) (*fhir.Bundle, error)
}

// Aggregator rolls up quality metrics for a period.
type Aggregator interface {
	Rollup(ctx context.Context, day time.Time, sourceSystem string) (*metrics.Aggregate, error)
}

// errStoreFailed marks a per-document failure that came from the record
// store rather than from the document itself.
var errStoreFailed = errors.New("record store failed")

// Orchestrator runs the batch state machine: fetch page, extract, score,
// store, persist batch state, repeat until the cursor is exhausted.
type Orchestrator struct {
	batches BatchRepository
	records record.PatientRecordRepository
	fetcher Fetcher
	rollups Aggregator
	auditor *audit.Logger
	score   func(fhir.Document) (quality.Result, error)
	workers int
	log     zerolog.Logger
}

func NewOrchestrator(
	batches BatchRepository,
	records record.PatientRecordRepository,
	fetcher Fetcher,
	rollups Aggregator,
	auditor *audit.Logger,
	workers int,
	log zerolog.Logger,
) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		batches: batches,
		records: records,
		fetcher: fetcher,
		rollups: rollups,
		auditor: auditor,
		score:   quality.Score,
		workers: workers,
		log:     log,
	}
}

// StartBatch creates a running batch pointed at the source's first page.
// At most one batch may run per source system at a time.
func (s *Orchestrator) StartBatch(ctx context.Context, cfg SourceConfig) (*Batch, error) {
	if cfg.Endpoint == "" || cfg.SourceSystem == "" {
		return nil, errors.New("endpoint and source_system are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}

	cursor := source.FirstPageURL(cfg.Endpoint, cfg.PageSize)
	b := &Batch{
		ID:           uuid.New(),
		SourceSystem: cfg.SourceSystem,
		Endpoint:     cfg.Endpoint,
		PageSize:     cfg.PageSize,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
		NextCursor:   &cursor,
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, err
	}

	s.auditor.Operation(ctx, b.ID, audit.OpBatchStart, "SyncBatch", audit.StatusInfo, 0, map[string]interface{}{
		"source_system": b.SourceSystem,
		"endpoint":      b.Endpoint,
		"page_size":     b.PageSize,
	})
	s.log.Info().
		Str("batch_id", b.ID.String()).
		Str("source_system", b.SourceSystem).
		Msg("batch started")

	return b, nil
}

// RunToCompletion processes pages until the cursor is exhausted, the batch
// fails, or cancellation is observed at a page boundary. Per-document errors
// are contained; fetch errors past the retry budget, and pages whose writes
// all fail, abort the whole batch while preserving the cursor for resume.
func (s *Orchestrator) RunToCompletion(ctx context.Context, batchID uuid.UUID) error {
	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}
	if b.Status != StatusRunning {
		return ErrNotRunning
	}

	for {
		// Cancellation is observed between pages only, never mid-page.
		if fresh, err := s.batches.GetByID(ctx, b.ID); err == nil && fresh.CancelRequested {
			b.CancelRequested = true
			return s.finalize(ctx, b, StatusCancelled, nil)
		}

		if b.NextCursor == nil {
			return s.finalize(ctx, b, StatusCompleted, nil)
		}

		start := time.Now()
		bundle, err := s.fetcher.FetchPage(ctx, *b.NextCursor)
		if err != nil {
			s.auditor.Failure(ctx, b.ID, audit.OpFetch, "Bundle", "", err)
			return s.finalize(ctx, b, StatusFailed, err)
		}
		s.auditor.Operation(ctx, b.ID, audit.OpFetch, "Bundle", audit.StatusSuccess, time.Since(start), map[string]interface{}{
			"page": b.LastProcessedPage + 1,
		})

		docs, next := source.Extract(bundle)
		succeeded, failed, storeFailed := s.processPage(ctx, b, docs)

		// Every write on a non-empty page erroring means the store itself is
		// down, not that the page carried bad data. Fail the batch without
		// advancing so resume retries this page.
		if len(docs) > 0 && storeFailed == len(docs) {
			err := fmt.Errorf("storing page %d: all %d records failed", b.LastProcessedPage+1, len(docs))
			s.auditor.Failure(ctx, b.ID, audit.OpStore, "Bundle", "", err)
			return s.finalize(ctx, b, StatusFailed, err)
		}

		b.SuccessfulRecords += succeeded
		b.FailedRecords += failed
		b.TotalRecords += len(docs)
		b.LastProcessedPage++
		if next == "" {
			b.NextCursor = nil
		} else {
			b.NextCursor = &next
		}

		// The batch row is written last in each page's loop so a crash
		// leaves the last durably recorded cursor to resume from.
		if err := s.batches.Update(ctx, b); err != nil {
			return fmt.Errorf("persist batch %s: %w", b.ID, err)
		}
	}
}

// Resume reopens a failed or cancelled batch at its preserved cursor, and
// re-attaches to a batch a crashed process left in running. The caller owns
// making sure the previous run is actually dead before re-attaching. The
// same single-active-batch rule applies as at start.
func (s *Orchestrator) Resume(ctx context.Context, batchID uuid.UUID) (*Batch, error) {
	b, err := s.batches.Reopen(ctx, batchID)
	if err != nil {
		return nil, err
	}

	s.auditor.Operation(ctx, b.ID, audit.OpRetry, "SyncBatch", audit.StatusInfo, 0, map[string]interface{}{
		"resumed_from_page": b.LastProcessedPage,
	})
	s.log.Info().
		Str("batch_id", b.ID.String()).
		Int("last_processed_page", b.LastProcessedPage).
		Msg("batch resumed")

	return b, nil
}

func (s *Orchestrator) RequestCancel(ctx context.Context, batchID uuid.UUID) error {
	return s.batches.RequestCancel(ctx, batchID)
}

func (s *Orchestrator) GetBatch(ctx context.Context, batchID uuid.UUID) (*Batch, error) {
	return s.batches.GetByID(ctx, batchID)
}

func (s *Orchestrator) ListBatches(ctx context.Context, status, sourceSystem string, limit, offset int) ([]*Batch, int, error) {
	return s.batches.List(ctx, status, sourceSystem, limit, offset)
}

// processPage scores and stores a page's documents across a bounded worker
// pool. Documents are independent; the page tallies are the only shared
// state and are serialized behind a mutex. Tallies are returned rather than
// applied so the caller can discard the page when the store is down.
func (s *Orchestrator) processPage(ctx context.Context, b *Batch, docs []fhir.Document) (succeeded, failed, storeFailed int) {
	var (
		wg stdsync.WaitGroup
		mu stdsync.Mutex
	)
	sem := make(chan struct{}, s.workers)

	for _, doc := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(doc fhir.Document) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.processDocument(ctx, b, doc)

			mu.Lock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errStoreFailed):
				failed++
				storeFailed++
			default:
				failed++
			}
			mu.Unlock()
		}(doc)
	}
	wg.Wait()
	return succeeded, failed, storeFailed
}

func (s *Orchestrator) processDocument(ctx context.Context, b *Batch, doc fhir.Document) error {
	sourceRecordID := doc.ID()
	if sourceRecordID == "" {
		err := errors.New("document has no source record id")
		s.auditor.Failure(ctx, b.ID, audit.OpValidate, "Patient", "", err)
		return err
	}

	res, err := s.score(doc)
	if err != nil {
		s.auditor.Failure(ctx, b.ID, audit.OpValidate, "Patient", sourceRecordID, err)
		return err
	}

	start := time.Now()
	rec := &record.PatientRecord{
		SourceRecordID: sourceRecordID,
		SourceSystem:   b.SourceSystem,
		Document:       doc,
		QualityScore:   res.Score,
		QualityFlags:   res.Flags,
		BatchID:        b.ID,
	}
	created, err := s.records.Upsert(ctx, rec)
	if err != nil {
		s.auditor.Failure(ctx, b.ID, audit.OpStore, "Patient", sourceRecordID, err)
		return fmt.Errorf("%w: %v", errStoreFailed, err)
	}

	s.auditor.Operation(ctx, b.ID, audit.OpStore, "Patient", audit.StatusSuccess, time.Since(start), map[string]interface{}{
		"source_record_id": sourceRecordID,
		"created":          created,
		"quality_score":    res.Score,
	})
	return nil
}

func (s *Orchestrator) finalize(ctx context.Context, b *Batch, status string, cause error) error {
	now := time.Now().UTC()
	b.Status = status
	b.EndedAt = &now
	if cause != nil {
		msg := cause.Error()
		b.ErrorMessage = &msg
	}
	if err := s.batches.Update(ctx, b); err != nil {
		return fmt.Errorf("finalize batch %s: %w", b.ID, err)
	}

	auditStatus := audit.StatusSuccess
	switch status {
	case StatusFailed:
		auditStatus = audit.StatusError
	case StatusCancelled:
		auditStatus = audit.StatusInfo
	}
	s.auditor.Operation(ctx, b.ID, audit.OpBatchEnd, "SyncBatch", auditStatus, now.Sub(b.StartedAt), map[string]interface{}{
		"status":             status,
		"total_records":      b.TotalRecords,
		"successful_records": b.SuccessfulRecords,
		"failed_records":     b.FailedRecords,
	})
	s.log.Info().
		Str("batch_id", b.ID.String()).
		Str("status", status).
		Int("successful_records", b.SuccessfulRecords).
		Int("failed_records", b.FailedRecords).
		Msg("batch finished")

	if status == StatusCompleted && s.rollups != nil {
		if _, err := s.rollups.Rollup(ctx, now, b.SourceSystem); err != nil {
			s.log.Warn().Err(err).
				Str("batch_id", b.ID.String()).
				Msg("metrics rollup failed")
		}
	}

	return cause
}
