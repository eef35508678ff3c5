package service

import (
	"context"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/approval"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
)

// ArtifactService exposes artifact records and routes approval decisions
// through the approval guard.
type ArtifactService struct {
	artifacts *repository.ArtifactRepository
	guard     *approval.Guard
	log       *logger.Logger
}

// NewArtifactService creates an artifact service
func NewArtifactService(artifacts *repository.ArtifactRepository, guard *approval.Guard, log *logger.Logger) *ArtifactService {
	return &ArtifactService{
		artifacts: artifacts,
		guard:     guard,
		log:       log,
	}
}

// Get retrieves an artifact record
func (s *ArtifactService) Get(ctx context.Context, artifactID uuid.UUID) (*models.ArtifactRecord, error) {
	return s.artifacts.GetArtifact(ctx, artifactID)
}

// List retrieves artifact records, optionally filtered by approval state
func (s *ArtifactService) List(ctx context.Context, state string, limit int) ([]*models.ArtifactRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var filter models.ApprovalState
	switch state {
	case "":
	case string(models.ApprovalPending), string(models.ApprovalApproved), string(models.ApprovalRejected):
		filter = models.ApprovalState(state)
	default:
		return nil, fmt.Errorf("unknown approval state %q", state)
	}

	return s.artifacts.List(ctx, filter, limit)
}

// Approve approves the artifact and triggers its promotion
func (s *ArtifactService) Approve(ctx context.Context, artifactID uuid.UUID, approver string) error {
	if approver == "" {
		return fmt.Errorf("approver is required")
	}
	return s.guard.Approve(ctx, artifactID, approver)
}

// Reject rejects the artifact; it can never be promoted afterwards
func (s *ArtifactService) Reject(ctx context.Context, artifactID uuid.UUID, approver string) error {
	if approver == "" {
		return fmt.Errorf("approver is required")
	}
	return s.guard.Reject(ctx, artifactID, approver)
}

// Dispatch re-emits the promotion trigger for an approved artifact whose
// original trigger was lost, e.g. when the bus was unreachable during the
// approval. A no-op when the trigger already went out.
func (s *ArtifactService) Dispatch(ctx context.Context, artifactID uuid.UUID) error {
	s.log.Info("re-dispatching promotion trigger", "artifact_id", artifactID)
	return s.guard.Redispatch(ctx, artifactID)
}
