package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/domain/audit"
	"github.com/clinsync/clinsync/internal/domain/record"
)

type mockMetricsRepo struct {
	rows map[string]*Aggregate
}

func metricsKey(day time.Time, source string) string {
	return day.Format("2006-01-02") + "/" + source
}

func (m *mockMetricsRepo) Upsert(ctx context.Context, agg *Aggregate) error {
	if m.rows == nil {
		m.rows = map[string]*Aggregate{}
	}
	key := metricsKey(agg.MetricDate, agg.SourceSystem)
	if existing, ok := m.rows[key]; ok {
		agg.ID = existing.ID
		agg.CreatedAt = existing.CreatedAt
	} else {
		agg.ID = uuid.New()
		agg.CreatedAt = time.Now().UTC()
	}
	agg.UpdatedAt = time.Now().UTC()
	copied := *agg
	m.rows[key] = &copied
	return nil
}

func (m *mockMetricsRepo) GetForDate(ctx context.Context, day time.Time, source string) (*Aggregate, error) {
	if a, ok := m.rows[metricsKey(day, source)]; ok {
		return a, nil
	}
	return nil, errors.New("not found")
}

func (m *mockMetricsRepo) Trend(ctx context.Context, source string, from, to time.Time) ([]*Aggregate, error) {
	var out []*Aggregate
	for _, a := range m.rows {
		if a.SourceSystem == source && !a.MetricDate.Before(from) && !a.MetricDate.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

// mockRecordRepo serves fixed quality stats.
type mockRecordRepo struct {
	stats record.QualityStats
}

func (m *mockRecordRepo) Upsert(ctx context.Context, rec *record.PatientRecord) (bool, error) {
	return false, errors.New("not implemented")
}

func (m *mockRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*record.PatientRecord, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRecordRepo) GetByNaturalKey(ctx context.Context, sourceRecordID, sourceSystem string) (*record.PatientRecord, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRecordRepo) List(ctx context.Context, sourceSystem string, limit, offset int) ([]*record.PatientRecord, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *mockRecordRepo) StatsForPeriod(ctx context.Context, day time.Time, sourceSystem string) (*record.QualityStats, error) {
	stats := m.stats
	return &stats, nil
}

// mockOutcomeRepo serves fixed audit outcome counts.
type mockOutcomeRepo struct {
	outcomes audit.OutcomeCounts
}

func (m *mockOutcomeRepo) Create(ctx context.Context, entry *audit.Entry) error { return nil }

func (m *mockOutcomeRepo) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	return nil, errors.New("not implemented")
}

func (m *mockOutcomeRepo) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*audit.Entry, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *mockOutcomeRepo) CountByOperation(ctx context.Context, since time.Time) (map[string]int, error) {
	return nil, errors.New("not implemented")
}

func (m *mockOutcomeRepo) CountOutcomes(ctx context.Context, day time.Time, sourceSystem string) (*audit.OutcomeCounts, error) {
	counts := m.outcomes
	return &counts, nil
}

func newTestService(stats record.QualityStats, outcomes audit.OutcomeCounts) (*Service, *mockMetricsRepo) {
	repo := &mockMetricsRepo{}
	svc := NewService(nil, repo, &mockRecordRepo{stats: stats}, &mockOutcomeRepo{outcomes: outcomes}, zerolog.Nop())
	return svc, repo
}

func TestRollup(t *testing.T) {
	svc, repo := newTestService(
		record.QualityStats{TotalRecords: 40, AverageScore: 0.82, HighCount: 30, MediumCount: 7, LowCount: 3},
		audit.OutcomeCounts{Errors: 2, Warnings: 5},
	)

	day := time.Date(2026, 8, 30, 14, 45, 0, 0, time.UTC)
	agg, err := svc.Rollup(context.Background(), day, "epic-prod")
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}

	if agg.TotalRecords != 40 || agg.HighCount != 30 || agg.MediumCount != 7 || agg.LowCount != 3 {
		t.Errorf("unexpected tier counts %+v", agg)
	}
	if agg.ErrorCount != 2 || agg.WarningCount != 5 {
		t.Errorf("unexpected outcome counts %+v", agg)
	}
	// Rollup normalizes the period to midnight UTC.
	want := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if !agg.MetricDate.Equal(want) {
		t.Errorf("expected metric date %v, got %v", want, agg.MetricDate)
	}
	if len(repo.rows) != 1 {
		t.Errorf("expected 1 stored aggregate, got %d", len(repo.rows))
	}
}

func TestRollupIdempotent(t *testing.T) {
	svc, repo := newTestService(
		record.QualityStats{TotalRecords: 12, AverageScore: 0.66, HighCount: 4, MediumCount: 5, LowCount: 3},
		audit.OutcomeCounts{Errors: 1},
	)

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	first, err := svc.Rollup(context.Background(), day, "cerner-east")
	if err != nil {
		t.Fatalf("first rollup: %v", err)
	}
	second, err := svc.Rollup(context.Background(), day, "cerner-east")
	if err != nil {
		t.Fatalf("second rollup: %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("expected 1 row after re-rollup, got %d", len(repo.rows))
	}
	if second.TotalRecords != first.TotalRecords ||
		second.AverageScore != first.AverageScore ||
		second.ErrorCount != first.ErrorCount {
		t.Errorf("re-rollup changed values: %+v vs %+v", first, second)
	}
	if second.ID != first.ID {
		t.Errorf("re-rollup replaced the row identity: %s vs %s", first.ID, second.ID)
	}
}
