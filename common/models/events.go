package models

import (
	"time"

	"github.com/google/uuid"
)

// BuildRequested is published by the trigger adapter and consumed by the
// pipeline runner.
type BuildRequested struct {
	RunID        uuid.UUID   `json:"run_id"`
	PipelineName string      `json:"pipeline_name"`
	AgentName    string      `json:"agent_name"`
	Trigger      TriggerKind `json:"trigger"`
	SubmittedBy  string      `json:"submitted_by,omitempty"`
	RequestedAt  time.Time   `json:"requested_at"`
}

// BuildFinished is published when a build run reaches a terminal state.
type BuildFinished struct {
	RunID       uuid.UUID  `json:"run_id"`
	Status      RunStatus  `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	ArtifactID  *uuid.UUID `json:"artifact_id,omitempty"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// PromotionRequested is emitted at most once per artifact by the approval
// guard when an artifact transitions to APPROVED.
type PromotionRequested struct {
	ArtifactID  uuid.UUID `json:"artifact_id"`
	ReleaseName string    `json:"release_name"`
	ApprovedBy  string    `json:"approved_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// PromotionFinished is published when a promotion run reaches a terminal state.
type PromotionFinished struct {
	PromotionID uuid.UUID `json:"promotion_id"`
	ArtifactID  uuid.UUID `json:"artifact_id"`
	Status      RunStatus `json:"status"`
	FinishedAt  time.Time `json:"finished_at"`
}
