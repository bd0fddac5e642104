package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo AuditRepository
}

func NewService(repo AuditRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) SearchEntries(ctx context.Context, params map[string]string, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// OperationStats answers "audit counts by operation type in the last window".
func (s *Service) OperationStats(ctx context.Context, window time.Duration) (map[string]int, error) {
	return s.repo.CountByOperation(ctx, time.Now().UTC().Add(-window))
}
