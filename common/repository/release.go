package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReleaseRepository handles database operations for release pointers
type ReleaseRepository struct {
	db *db.DB
}

// NewReleaseRepository creates a new release repository
func NewReleaseRepository(db *db.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

// GetByName retrieves a release pointer by name
func (r *ReleaseRepository) GetByName(ctx context.Context, name string) (*models.Release, error) {
	query := `
		SELECT name, artifact_id, version, moved_by, moved_at
		FROM release
		WHERE name = $1
	`

	release := &models.Release{}
	err := r.db.QueryRow(ctx, query, name).Scan(
		&release.Name,
		&release.ArtifactID,
		&release.Version,
		&release.MovedBy,
		&release.MovedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("release %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get release: %w", err)
	}

	return release, nil
}

// Create inserts a new release pointer at version 1
func (r *ReleaseRepository) Create(ctx context.Context, name string, artifactID uuid.UUID, movedBy string) error {
	query := `
		INSERT INTO release (name, artifact_id, version, moved_by, moved_at)
		VALUES ($1, $2, 1, $3, NOW())
	`

	_, err := r.db.Exec(ctx, query, name, artifactID, movedBy)
	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}

	if err := r.recordMove(ctx, name, nil, artifactID, movedBy); err != nil {
		return err
	}

	return nil
}

// CompareAndSwap moves the release pointer only if its version still matches
// expectedVersion. Returns false when another writer moved it first.
func (r *ReleaseRepository) CompareAndSwap(ctx context.Context, name string, expectedVersion int64, newArtifactID uuid.UUID, movedBy string) (bool, error) {
	query := `
		UPDATE release
		SET artifact_id = $3, version = version + 1, moved_by = $4, moved_at = NOW()
		WHERE name = $1 AND version = $2
		RETURNING version
	`

	var newVersion int64
	err := r.db.QueryRow(ctx, query, name, expectedVersion, newArtifactID, movedBy).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to swap release pointer: %w", err)
	}

	return true, nil
}

// Move records a pointer move with its history entry. Used by the promoter
// after a successful CAS so the audit trail survives rollbacks.
func (r *ReleaseRepository) Move(ctx context.Context, name string, from *uuid.UUID, to uuid.UUID, movedBy string) error {
	return r.recordMove(ctx, name, from, to, movedBy)
}

func (r *ReleaseRepository) recordMove(ctx context.Context, name string, from *uuid.UUID, to uuid.UUID, movedBy string) error {
	query := `
		INSERT INTO release_move (name, from_artifact_id, to_artifact_id, moved_by, moved_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	_, err := r.db.Exec(ctx, query, name, from, to, movedBy)
	if err != nil {
		return fmt.Errorf("failed to record release move: %w", err)
	}

	return nil
}

// History retrieves the release's move history, newest first
func (r *ReleaseRepository) History(ctx context.Context, name string, limit int) ([]*models.ReleaseMove, error) {
	query := `
		SELECT name, from_artifact_id, to_artifact_id, moved_by, moved_at
		FROM release_move
		WHERE name = $1
		ORDER BY moved_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get release history: %w", err)
	}
	defer rows.Close()

	var history []*models.ReleaseMove
	for rows.Next() {
		move := &models.ReleaseMove{}
		err := rows.Scan(
			&move.Name,
			&move.FromArtifactID,
			&move.ToArtifactID,
			&move.MovedBy,
			&move.MovedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release move: %w", err)
		}
		history = append(history, move)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating release history: %w", err)
	}

	return history, nil
}
