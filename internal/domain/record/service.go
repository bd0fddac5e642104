package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo PatientRecordRepository
}

func NewService(repo PatientRecordRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListRecords(ctx context.Context, sourceSystem string, limit, offset int) ([]*PatientRecord, int, error) {
	return s.repo.List(ctx, sourceSystem, limit, offset)
}

func (s *Service) StatsForPeriod(ctx context.Context, day time.Time, sourceSystem string) (*QualityStats, error) {
	return s.repo.StatsForPeriod(ctx, day, sourceSystem)
}
