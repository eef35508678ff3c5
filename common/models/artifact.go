package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalState represents the approval status of an artifact record
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING_MANUAL_APPROVAL"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
)

// Terminal reports whether the approval state can no longer change
func (s ApprovalState) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ArtifactRecord is the versioned, approvable unit produced by a passing
// build run. Records are never deleted, only superseded by newer ones.
// Maps to: artifact_record table
type ArtifactRecord struct {
	// Unique artifact ID
	ArtifactID uuid.UUID `db:"artifact_id" json:"artifact_id"`

	// Build run that produced this artifact
	RunID uuid.UUID `db:"run_id" json:"run_id"`

	// Agent and immutable version the record points at
	AgentName    string `db:"agent_name" json:"agent_name"`
	AgentVersion string `db:"agent_version" json:"agent_version"`

	// Approval state; mutated exactly once by a human action
	ApprovalState ApprovalState `db:"approval_state" json:"approval_state"`

	// Evaluation summary copied at registration time (JSONB)
	Metadata map[string]interface{} `db:"metadata" json:"metadata,omitempty"`

	// Audit fields
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ApprovedBy *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt *time.Time `db:"approved_at" json:"approved_at,omitempty"`
}
