package treatment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/repository"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Service is the treatment catalog lookup used by booking and referral
// acceptance. Catalog rows change rarely, so lookups are cached.
type Service struct {
	repo  repository.TreatmentRepository
	cache *gocache.Cache
}

func NewService(repo repository.TreatmentRepository) *Service {
	return &Service{
		repo:  repo,
		cache: gocache.New(cacheTTL, cacheCleanup),
	}
}

// Lookup returns the treatment if the branch offers it and it is
// currently available; TreatmentUnavailable otherwise.
func (s *Service) Lookup(ctx context.Context, branchID, treatmentID uuid.UUID) (*model.Treatment, error) {
	key := fmt.Sprintf("%s:%s", branchID, treatmentID)
	if cached, ok := s.cache.Get(key); ok {
		t := cached.(*model.Treatment)
		if !t.Available {
			return nil, apperrors.TreatmentUnavailable("")
		}
		return t, nil
	}

	t, err := s.repo.GetForBranch(ctx, branchID, treatmentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.TreatmentUnavailable("treatment is not offered at this branch")
		}
		return nil, err
	}

	s.cache.Set(key, t, cacheTTL)

	if !t.Available {
		return nil, apperrors.TreatmentUnavailable("")
	}
	return t, nil
}

func (s *Service) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]*model.Treatment, error) {
	return s.repo.ListByBranch(ctx, branchID)
}
