package service

import (
	"context"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
)

// ReleaseService exposes release pointers and promotion history
type ReleaseService struct {
	releases   *repository.ReleaseRepository
	promotions *repository.PromotionRepository
	log        *logger.Logger
}

// NewReleaseService creates a release service
func NewReleaseService(releases *repository.ReleaseRepository, promotions *repository.PromotionRepository, log *logger.Logger) *ReleaseService {
	return &ReleaseService{
		releases:   releases,
		promotions: promotions,
		log:        log,
	}
}

// Get retrieves a release pointer by name
func (s *ReleaseService) Get(ctx context.Context, name string) (*models.Release, error) {
	return s.releases.GetByName(ctx, name)
}

// History retrieves the release's move history
func (s *ReleaseService) History(ctx context.Context, name string, limit int) ([]*models.ReleaseMove, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.releases.History(ctx, name, limit)
}

// Promotions retrieves recent promotion runs
func (s *ReleaseService) Promotions(ctx context.Context, limit int) ([]*models.PromotionRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.promotions.List(ctx, limit)
}

// Promotion retrieves one promotion run
func (s *ReleaseService) Promotion(ctx context.Context, promotionID uuid.UUID) (*models.PromotionRun, error) {
	return s.promotions.GetByID(ctx, promotionID)
}
