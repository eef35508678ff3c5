package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ArtifactRepository handles database operations for artifact records
type ArtifactRepository struct {
	db *db.DB
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *db.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Create inserts a new artifact record
func (r *ArtifactRepository) Create(ctx context.Context, artifact *models.ArtifactRecord) error {
	query := `
		INSERT INTO artifact_record (
			artifact_id, run_id, agent_name, agent_version,
			approval_state, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	metadata, err := json.Marshal(artifact.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		artifact.ArtifactID,
		artifact.RunID,
		artifact.AgentName,
		artifact.AgentVersion,
		artifact.ApprovalState,
		metadata,
		artifact.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create artifact record: %w", err)
	}

	return nil
}

// GetArtifact retrieves an artifact record by its ID
func (r *ArtifactRepository) GetArtifact(ctx context.Context, artifactID uuid.UUID) (*models.ArtifactRecord, error) {
	query := `
		SELECT artifact_id, run_id, agent_name, agent_version,
		       approval_state, metadata, created_at, approved_by, approved_at
		FROM artifact_record
		WHERE artifact_id = $1
	`

	artifact := &models.ArtifactRecord{}
	var metadata []byte
	err := r.db.QueryRow(ctx, query, artifactID).Scan(
		&artifact.ArtifactID,
		&artifact.RunID,
		&artifact.AgentName,
		&artifact.AgentVersion,
		&artifact.ApprovalState,
		&metadata,
		&artifact.CreatedAt,
		&artifact.ApprovedBy,
		&artifact.ApprovedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", artifactID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact record: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &artifact.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal artifact metadata: %w", err)
		}
	}

	return artifact, nil
}

// List retrieves artifact records, optionally filtered by approval state
func (r *ArtifactRepository) List(ctx context.Context, state models.ApprovalState, limit int) ([]*models.ArtifactRecord, error) {
	query := `
		SELECT artifact_id, run_id, agent_name, agent_version,
		       approval_state, metadata, created_at, approved_by, approved_at
		FROM artifact_record
		WHERE ($1 = '' OR approval_state = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact records: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.ArtifactRecord
	for rows.Next() {
		artifact := &models.ArtifactRecord{}
		var metadata []byte
		err := rows.Scan(
			&artifact.ArtifactID,
			&artifact.RunID,
			&artifact.AgentName,
			&artifact.AgentVersion,
			&artifact.ApprovalState,
			&metadata,
			&artifact.CreatedAt,
			&artifact.ApprovedBy,
			&artifact.ApprovedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact record: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &artifact.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal artifact metadata: %w", err)
			}
		}
		artifacts = append(artifacts, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifact records: %w", err)
	}

	return artifacts, nil
}

// TransitionApproval moves the artifact out of PENDING_MANUAL_APPROVAL.
// The WHERE clause guards the transition: concurrent approvers race on the
// same row and exactly one update wins.
func (r *ArtifactRepository) TransitionApproval(ctx context.Context, artifactID uuid.UUID, state models.ApprovalState, approver string, at time.Time) (bool, error) {
	query := `
		UPDATE artifact_record
		SET approval_state = $2, approved_by = $3, approved_at = $4
		WHERE artifact_id = $1 AND approval_state = 'PENDING_MANUAL_APPROVAL'
	`

	result, err := r.db.Exec(ctx, query, artifactID, state, approver, at)
	if err != nil {
		return false, fmt.Errorf("failed to transition artifact approval: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
