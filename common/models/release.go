package models

import (
	"time"

	"github.com/google/uuid"
)

// Release is a mutable named pointer to the artifact currently serving an
// alias (e.g. 'prod', 'staging'). At most one artifact is current per name;
// moves are last-writer-wins guarded by the optimistic-lock version.
// Maps to: release table
type Release struct {
	// Release name
	Name string `db:"name" json:"name"`

	// Artifact the release currently points at
	ArtifactID uuid.UUID `db:"artifact_id" json:"artifact_id"`

	// Optimistic locking version (for CAS swaps)
	Version int64 `db:"version" json:"version"`

	// Audit fields
	MovedBy *string   `db:"moved_by" json:"moved_by,omitempty"`
	MovedAt time.Time `db:"moved_at" json:"moved_at"`
}

// ReleaseMove is one entry in a release's move history, kept so a failed
// promotion can be traced back to the pointer it restored.
// Maps to: release_move table
type ReleaseMove struct {
	Name           string     `db:"name" json:"name"`
	FromArtifactID *uuid.UUID `db:"from_artifact_id" json:"from_artifact_id,omitempty"`
	ToArtifactID   uuid.UUID  `db:"to_artifact_id" json:"to_artifact_id"`
	MovedBy        *string    `db:"moved_by" json:"moved_by,omitempty"`
	MovedAt        time.Time  `db:"moved_at" json:"moved_at"`
}
