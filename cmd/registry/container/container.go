package container

import (
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/registry/service"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/approval"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/bootstrap"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	BuildRunRepo  *repository.BuildRunRepository
	ArtifactRepo  *repository.ArtifactRepository
	PromotionRepo *repository.PromotionRepository
	ReleaseRepo   *repository.ReleaseRepository

	// Services
	BuildService    *service.BuildService
	ArtifactService *service.ArtifactService
	ReleaseService  *service.ReleaseService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	if components.Redis == nil {
		return nil, fmt.Errorf("registry requires redis for approval deduplication")
	}

	// Initialize repositories
	buildRunRepo := repository.NewBuildRunRepository(components.DB)
	artifactRepo := repository.NewArtifactRepository(components.DB)
	promotionRepo := repository.NewPromotionRepository(components.DB)
	releaseRepo := repository.NewReleaseRepository(components.DB)

	// Initialize services (bottom-up: dependencies first)
	guard := approval.NewGuard(
		artifactRepo,
		components.Bus,
		approval.NewRedisDeduper(components.Redis),
		components.Config.Pipeline.ProductionAlias,
		components.Logger,
	)

	buildService := service.NewBuildService(
		buildRunRepo,
		components.Bus,
		components.Config.Features,
		components.Logger,
	)
	artifactService := service.NewArtifactService(artifactRepo, guard, components.Logger)
	releaseService := service.NewReleaseService(releaseRepo, promotionRepo, components.Logger)

	return &Container{
		Components:      components,
		BuildRunRepo:    buildRunRepo,
		ArtifactRepo:    artifactRepo,
		PromotionRepo:   promotionRepo,
		ReleaseRepo:     releaseRepo,
		BuildService:    buildService,
		ArtifactService: artifactService,
		ReleaseService:  releaseService,
	}, nil
}
