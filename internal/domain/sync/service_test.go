package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/domain/audit"
	"github.com/clinsync/clinsync/internal/domain/metrics"
	"github.com/clinsync/clinsync/internal/domain/record"
	"github.com/clinsync/clinsync/internal/platform/fhir"
	"github.com/clinsync/clinsync/internal/platform/source"
)

// mockBatchRepo is a map-backed BatchRepository enforcing the same
// single-active-batch rule as the partial unique index.
type mockBatchRepo struct {
	mu   stdsync.Mutex
	rows map[uuid.UUID]*Batch
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{rows: map[uuid.UUID]*Batch{}}
}

func (m *mockBatchRepo) hasRunningLocked(sourceSystem string, except uuid.UUID) bool {
	for _, b := range m.rows {
		if b.ID != except && b.SourceSystem == sourceSystem && b.Status == StatusRunning {
			return true
		}
	}
	return false
}

func (m *mockBatchRepo) Create(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasRunningLocked(b.SourceSystem, b.ID) {
		return ErrSourceBusy
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	copied := *b
	m.rows[b.ID] = &copied
	return nil
}

func (m *mockBatchRepo) GetByID(ctx context.Context, id uuid.UUID) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	copied := *b
	return &copied, nil
}

func (m *mockBatchRepo) Update(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[b.ID]
	if !ok {
		return errors.New("batch not found")
	}
	copied := *b
	copied.CancelRequested = stored.CancelRequested
	copied.UpdatedAt = time.Now().UTC()
	m.rows[b.ID] = &copied
	b.UpdatedAt = copied.UpdatedAt
	return nil
}

func (m *mockBatchRepo) Reopen(ctx context.Context, id uuid.UUID) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[id]
	if !ok {
		return nil, errors.New("batch not found")
	}
	if stored.Status == StatusCompleted {
		return nil, ErrNotResumable
	}
	if m.hasRunningLocked(stored.SourceSystem, id) {
		return nil, ErrSourceBusy
	}
	stored.Status = StatusRunning
	stored.EndedAt = nil
	stored.ErrorMessage = nil
	stored.CancelRequested = false
	stored.UpdatedAt = time.Now().UTC()
	copied := *stored
	return &copied, nil
}

func (m *mockBatchRepo) List(ctx context.Context, status, sourceSystem string, limit, offset int) ([]*Batch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Batch
	for _, b := range m.rows {
		if status != "" && b.Status != status {
			continue
		}
		if sourceSystem != "" && b.SourceSystem != sourceSystem {
			continue
		}
		copied := *b
		out = append(out, &copied)
	}
	return out, len(out), nil
}

func (m *mockBatchRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != StatusRunning {
		return ErrNotRunning
	}
	b.CancelRequested = true
	return nil
}

// mockRecordRepo stores records by natural key. failUpsert, when set, is
// consulted before every write.
type mockRecordRepo struct {
	mu         stdsync.Mutex
	rows       map[string]*record.PatientRecord
	failUpsert func(rec *record.PatientRecord) error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{rows: map[string]*record.PatientRecord{}}
}

func naturalKey(sourceRecordID, sourceSystem string) string {
	return sourceSystem + "/" + sourceRecordID
}

func (m *mockRecordRepo) Upsert(ctx context.Context, rec *record.PatientRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		if err := m.failUpsert(rec); err != nil {
			return false, err
		}
	}
	key := naturalKey(rec.SourceRecordID, rec.SourceSystem)
	_, exists := m.rows[key]
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	copied := *rec
	m.rows[key] = &copied
	return !exists, nil
}

func (m *mockRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*record.PatientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *mockRecordRepo) GetByNaturalKey(ctx context.Context, sourceRecordID, sourceSystem string) (*record.PatientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[naturalKey(sourceRecordID, sourceSystem)]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (m *mockRecordRepo) List(ctx context.Context, sourceSystem string, limit, offset int) ([]*record.PatientRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*record.PatientRecord
	for _, r := range m.rows {
		if sourceSystem == "" || r.SourceSystem == sourceSystem {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockRecordRepo) StatsForPeriod(ctx context.Context, day time.Time, sourceSystem string) (*record.QualityStats, error) {
	return &record.QualityStats{}, nil
}

// mockAuditRepo collects entries; writes may arrive concurrently from the
// page worker pool.
type mockAuditRepo struct {
	mu      stdsync.Mutex
	entries []*audit.Entry
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAuditRepo) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*audit.Entry, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *mockAuditRepo) CountByOperation(ctx context.Context, since time.Time) (map[string]int, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAuditRepo) CountOutcomes(ctx context.Context, day time.Time, sourceSystem string) (*audit.OutcomeCounts, error) {
	return &audit.OutcomeCounts{}, nil
}

func (m *mockAuditRepo) countOp(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Operation == op {
			n++
		}
	}
	return n
}

// mockFetcher serves canned pages keyed by URL.
type mockFetcher struct {
	mu      stdsync.Mutex
	pages   map[string]*fhir.Bundle
	fail    map[string]error
	onFetch func(url string)
	calls   int
}

func (m *mockFetcher) FetchPage(ctx context.Context, pageURL string) (*fhir.Bundle, error) {
	m.mu.Lock()
	m.calls++
	hook := m.onFetch
	m.mu.Unlock()
	if hook != nil {
		hook(pageURL)
	}
	if err, ok := m.fail[pageURL]; ok {
		return nil, err
	}
	if p, ok := m.pages[pageURL]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no such page %s", pageURL)
}

type stubAggregator struct {
	mu    stdsync.Mutex
	calls []string
}

func (s *stubAggregator) Rollup(ctx context.Context, day time.Time, sourceSystem string) (*metrics.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceSystem)
	return &metrics.Aggregate{SourceSystem: sourceSystem}, nil
}

func patientJSON(id string) json.RawMessage {
	if id == "" {
		return json.RawMessage(`{"resourceType": "Patient", "name": [{"text": "Jane Rivera"}]}`)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"resourceType": "Patient", "id": %q, "name": [{"text": "Jane Rivera"}], "gender": "female"}`, id))
}

func page(next string, ids ...string) *fhir.Bundle {
	b := &fhir.Bundle{ResourceType: "Bundle", Type: "searchset"}
	if next != "" {
		b.Link = append(b.Link, fhir.BundleLink{Relation: "next", URL: next})
	}
	for _, id := range ids {
		b.Entry = append(b.Entry, fhir.BundleEntry{Resource: patientJSON(id)})
	}
	return b
}

type testEnv struct {
	orc     *Orchestrator
	batches *mockBatchRepo
	records *mockRecordRepo
	audits  *mockAuditRepo
	rollups *stubAggregator
}

func newTestEnv(fetcher Fetcher) *testEnv {
	env := &testEnv{
		batches: newMockBatchRepo(),
		records: newMockRecordRepo(),
		audits:  &mockAuditRepo{},
		rollups: &stubAggregator{},
	}
	env.orc = NewOrchestrator(
		env.batches, env.records, fetcher, env.rollups,
		audit.NewLogger(env.audits, zerolog.Nop()),
		4, zerolog.Nop(),
	)
	return env
}

const testEndpoint = "https://src.example/fhir"

var firstPage = source.FirstPageURL(testEndpoint, 50)

func startBatch(t *testing.T, env *testEnv) *Batch {
	t.Helper()
	b, err := env.orc.StartBatch(context.Background(), SourceConfig{
		Endpoint:     testEndpoint,
		SourceSystem: "epic-prod",
		PageSize:     50,
	})
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	return b
}

func TestRunToCompletion(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page(testEndpoint+"/Patient?page=2", "p1", "p2"),
		testEndpoint + "/Patient?page=2": page("", "p3"),
	}}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.TotalRecords != 3 || final.SuccessfulRecords != 3 || final.FailedRecords != 0 {
		t.Errorf("unexpected counters %+v", final)
	}
	if final.LastProcessedPage != 2 {
		t.Errorf("expected 2 pages processed, got %d", final.LastProcessedPage)
	}
	if final.NextCursor != nil {
		t.Errorf("expected exhausted cursor, got %v", *final.NextCursor)
	}
	if final.EndedAt == nil {
		t.Error("expected ended_at to be set")
	}
	if len(env.records.rows) != 3 {
		t.Errorf("expected 3 stored records, got %d", len(env.records.rows))
	}
	if len(env.rollups.calls) != 1 || env.rollups.calls[0] != "epic-prod" {
		t.Errorf("expected one rollup for epic-prod, got %v", env.rollups.calls)
	}
	if n := env.audits.countOp(audit.OpBatchEnd); n != 1 {
		t.Errorf("expected 1 batch_end audit entry, got %d", n)
	}
	if n := env.audits.countOp(audit.OpStore); n != 3 {
		t.Errorf("expected 3 store audit entries, got %d", n)
	}
}

func TestRunToCompletion_DocumentFailureIsContained(t *testing.T) {
	// Second document has no source record id and cannot be stored.
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page("", "p1", "", "p3"),
	}}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed despite document failure, got %s", final.Status)
	}
	if final.SuccessfulRecords != 2 || final.FailedRecords != 1 || final.TotalRecords != 3 {
		t.Errorf("unexpected counters %+v", final)
	}
	if n := env.audits.countOp(audit.OpValidate); n != 1 {
		t.Errorf("expected 1 validate failure entry, got %d", n)
	}
}

func TestRunToCompletion_FetchFailurePreservesCursor(t *testing.T) {
	page2 := testEndpoint + "/Patient?page=2"
	fetcher := &mockFetcher{
		pages: map[string]*fhir.Bundle{
			firstPage: page(page2, "p1"),
		},
		fail: map[string]error{
			page2: &source.FetchError{URL: page2, StatusCode: 503, Attempts: 4},
		},
	}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	err := env.orc.RunToCompletion(context.Background(), b.ID)
	if err == nil {
		t.Fatal("expected fetch failure to surface")
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMessage == nil {
		t.Error("expected an error message")
	}
	if final.NextCursor == nil || *final.NextCursor != page2 {
		t.Fatalf("expected preserved cursor %q, got %v", page2, final.NextCursor)
	}
	if final.LastProcessedPage != 1 {
		t.Errorf("expected page 1 recorded, got %d", final.LastProcessedPage)
	}
	if len(env.rollups.calls) != 0 {
		t.Errorf("failed batch must not roll up metrics, got %v", env.rollups.calls)
	}
}

func TestResumeContinuesFromCursor(t *testing.T) {
	page2 := testEndpoint + "/Patient?page=2"
	fetcher := &mockFetcher{
		pages: map[string]*fhir.Bundle{
			firstPage: page(page2, "p1"),
		},
		fail: map[string]error{
			page2: errors.New("upstream flaking"),
		},
	}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err == nil {
		t.Fatal("expected first run to fail")
	}

	// Source recovers; resume picks up at page 2, not page 1.
	fetcher.mu.Lock()
	delete(fetcher.fail, page2)
	fetcher.pages[page2] = page("", "p2", "p3")
	before := fetcher.calls
	fetcher.mu.Unlock()

	resumed, err := env.orc.Resume(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusRunning {
		t.Fatalf("expected running after resume, got %s", resumed.Status)
	}
	if resumed.ErrorMessage != nil {
		t.Errorf("expected cleared error message, got %v", *resumed.ErrorMessage)
	}

	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.SuccessfulRecords != 3 || final.LastProcessedPage != 2 {
		t.Errorf("unexpected progress %+v", final)
	}

	fetcher.mu.Lock()
	fetched := fetcher.calls - before
	fetcher.mu.Unlock()
	if fetched != 1 {
		t.Errorf("resume refetched %d pages, expected only the failed one", fetched)
	}
}

func TestResumeRejectsCompletedBatch(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page("", "p1"),
	}}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	if _, err := env.orc.Resume(context.Background(), b.ID); !errors.Is(err, ErrNotResumable) {
		t.Errorf("expected ErrNotResumable, got %v", err)
	}
}

func TestResumeReattachesCrashLeftRunningBatch(t *testing.T) {
	page2 := testEndpoint + "/Patient?page=2"
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		page2: page("", "p2", "p3"),
	}}
	env := newTestEnv(fetcher)

	// A previous process died after durably recording page 1's progress.
	// The row is still marked running and holds the page-2 cursor.
	b := startBatch(t, env)
	env.batches.mu.Lock()
	row := env.batches.rows[b.ID]
	row.LastProcessedPage = 1
	row.TotalRecords = 1
	row.SuccessfulRecords = 1
	cursor := page2
	row.NextCursor = &cursor
	env.batches.mu.Unlock()

	// The stuck row keeps new batches for the source rejected.
	if _, err := env.orc.StartBatch(context.Background(), SourceConfig{
		Endpoint:     testEndpoint,
		SourceSystem: "epic-prod",
	}); !errors.Is(err, ErrSourceBusy) {
		t.Fatalf("expected ErrSourceBusy while the crashed batch holds the source, got %v", err)
	}

	resumed, err := env.orc.Resume(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusRunning {
		t.Fatalf("expected running after re-attach, got %s", resumed.Status)
	}

	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.SuccessfulRecords != 3 || final.LastProcessedPage != 2 {
		t.Errorf("unexpected progress %+v", final)
	}

	// Only page 2 was refetched; page 1's work stands.
	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected 1 page fetched after re-attach, got %d", calls)
	}
}

func TestUpsertSameKeyAcrossPages(t *testing.T) {
	// The same source record id arrives on two pages; the second write must
	// replace the first row, not add one.
	page2 := testEndpoint + "/Patient?page=2"
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page(page2, "p1", "p2"),
		page2: {ResourceType: "Bundle", Type: "searchset", Entry: []fhir.BundleEntry{
			{Resource: json.RawMessage(`{"resourceType": "Patient", "id": "p1", "name": [{"text": "Jane Rivera"}], "gender": "other"}`)},
		}},
	}}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.TotalRecords != 3 || final.SuccessfulRecords != 3 || final.FailedRecords != 0 {
		t.Errorf("unexpected counters %+v", final)
	}
	if len(env.records.rows) != 2 {
		t.Fatalf("expected 2 rows for 3 documents, got %d", len(env.records.rows))
	}

	stored, err := env.records.GetByNaturalKey(context.Background(), "p1", "epic-prod")
	if err != nil {
		t.Fatalf("GetByNaturalKey: %v", err)
	}
	if stored.Document.Gender() != "other" {
		t.Errorf("expected the second write's document, got gender %q", stored.Document.Gender())
	}
}

func TestFullPageStoreFailureFailsBatch(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page("", "p1", "p2"),
	}}
	env := newTestEnv(fetcher)
	env.records.failUpsert = func(rec *record.PatientRecord) error {
		return errors.New("connection refused")
	}

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err == nil {
		t.Fatal("expected a store outage to fail the batch")
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	// The page is discarded, not advanced; resume retries it.
	if final.NextCursor == nil || *final.NextCursor != firstPage {
		t.Errorf("expected preserved cursor %q, got %v", firstPage, final.NextCursor)
	}
	if final.LastProcessedPage != 0 || final.TotalRecords != 0 || final.FailedRecords != 0 {
		t.Errorf("expected no recorded progress, got %+v", final)
	}
	if len(env.rollups.calls) != 0 {
		t.Errorf("failed batch must not roll up metrics, got %v", env.rollups.calls)
	}
}

func TestPartialStoreFailureIsContained(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page("", "p1", "p2"),
	}}
	env := newTestEnv(fetcher)
	env.records.failUpsert = func(rec *record.PatientRecord) error {
		if rec.SourceRecordID == "p2" {
			return errors.New("value too long")
		}
		return nil
	}

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed despite one store failure, got %s", final.Status)
	}
	if final.SuccessfulRecords != 1 || final.FailedRecords != 1 || final.TotalRecords != 2 {
		t.Errorf("unexpected counters %+v", final)
	}
	if n := env.audits.countOp(audit.OpStore); n != 2 {
		t.Errorf("expected a store entry per document, got %d", n)
	}
}

func TestCancellationObservedBetweenPages(t *testing.T) {
	page2 := testEndpoint + "/Patient?page=2"
	env := newTestEnv(nil)

	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page(page2, "p1", "p2"),
		page2:     page("", "p3"),
	}}
	// Cancel arrives while page 1 is in flight; the orchestrator must finish
	// the page, then stop before fetching page 2.
	var batchID uuid.UUID
	fetcher.onFetch = func(url string) {
		if url == firstPage {
			if err := env.batches.RequestCancel(context.Background(), batchID); err != nil {
				t.Errorf("RequestCancel: %v", err)
			}
		}
	}
	env.orc.fetcher = fetcher

	b := startBatch(t, env)
	batchID = b.ID

	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.LastProcessedPage != 1 || final.SuccessfulRecords != 2 {
		t.Errorf("expected page 1 fully processed before stopping, got %+v", final)
	}
	if final.NextCursor == nil || *final.NextCursor != page2 {
		t.Errorf("expected preserved cursor for resume, got %v", final.NextCursor)
	}
	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected 1 page fetched, got %d", calls)
	}
}

func TestEmptyFinalPageCompletes(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{
		firstPage: page(""),
	}}
	env := newTestEnv(fetcher)

	b := startBatch(t, env)
	if err := env.orc.RunToCompletion(context.Background(), b.ID); err != nil {
		t.Fatalf("RunToCompletion: %v", err)
	}

	final, _ := env.batches.GetByID(context.Background(), b.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.TotalRecords != 0 || final.SuccessfulRecords != 0 || final.FailedRecords != 0 {
		t.Errorf("expected zero counters, got %+v", final)
	}
}

func TestStartBatchSingleActivePerSource(t *testing.T) {
	fetcher := &mockFetcher{pages: map[string]*fhir.Bundle{}}
	env := newTestEnv(fetcher)

	startBatch(t, env)
	_, err := env.orc.StartBatch(context.Background(), SourceConfig{
		Endpoint:     testEndpoint,
		SourceSystem: "epic-prod",
	})
	if !errors.Is(err, ErrSourceBusy) {
		t.Fatalf("expected ErrSourceBusy, got %v", err)
	}

	// A different source system is unaffected.
	if _, err := env.orc.StartBatch(context.Background(), SourceConfig{
		Endpoint:     testEndpoint,
		SourceSystem: "cerner-east",
	}); err != nil {
		t.Fatalf("unexpected error for second source: %v", err)
	}
}

func TestStartBatchDefaultsPageSize(t *testing.T) {
	env := newTestEnv(&mockFetcher{})
	b, err := env.orc.StartBatch(context.Background(), SourceConfig{
		Endpoint:     testEndpoint,
		SourceSystem: "epic-prod",
	})
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if b.PageSize != 50 {
		t.Errorf("expected default page size 50, got %d", b.PageSize)
	}
	if b.NextCursor == nil || *b.NextCursor != source.FirstPageURL(testEndpoint, 50) {
		t.Errorf("unexpected initial cursor %v", b.NextCursor)
	}
}
