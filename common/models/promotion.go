package models

import (
	"time"

	"github.com/google/uuid"
)

// PromotionRun represents one attempt to move an approved artifact into
// production.
// Maps to: promotion_run table
type PromotionRun struct {
	// Unique promotion ID
	PromotionID uuid.UUID `db:"promotion_id" json:"promotion_id"`

	// Artifact being promoted (must be APPROVED)
	ArtifactID uuid.UUID `db:"artifact_id" json:"artifact_id"`

	// Release pointer being moved (e.g. "prod")
	ReleaseName string `db:"release_name" json:"release_name"`

	// Previous production artifact, snapshotted before any swap.
	// Nil on first-ever promotion.
	RollbackTarget *uuid.UUID `db:"rollback_target" json:"rollback_target,omitempty"`

	// Run status; ROLLED_BACK is distinct from FAILED: the pointer was
	// swapped and then restored.
	Status RunStatus `db:"status" json:"status"`

	// Append-only log of completed stages (JSONB)
	StageLog []StageRecord `db:"stage_log" json:"stage_log"`

	FailedStage string `db:"failed_stage" json:"failed_stage,omitempty"`
	FailureKind string `db:"failure_kind" json:"failure_kind,omitempty"`

	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}
