package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PromotionRepository handles database operations for promotion runs
type PromotionRepository struct {
	db *db.DB
}

// NewPromotionRepository creates a new promotion repository
func NewPromotionRepository(db *db.DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// Create inserts a new promotion run
func (r *PromotionRepository) Create(ctx context.Context, run *models.PromotionRun) error {
	query := `
		INSERT INTO promotion_run (
			promotion_id, artifact_id, release_name, rollback_target,
			status, stage_log, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	stageLog, err := json.Marshal(run.StageLog)
	if err != nil {
		return fmt.Errorf("failed to marshal stage log: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		run.PromotionID,
		run.ArtifactID,
		run.ReleaseName,
		run.RollbackTarget,
		run.Status,
		stageLog,
		run.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create promotion run: %w", err)
	}

	return nil
}

// GetByID retrieves a promotion run by its ID
func (r *PromotionRepository) GetByID(ctx context.Context, promotionID uuid.UUID) (*models.PromotionRun, error) {
	query := `
		SELECT promotion_id, artifact_id, release_name, rollback_target,
		       status, stage_log, failed_stage, failure_kind, started_at, ended_at
		FROM promotion_run
		WHERE promotion_id = $1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, promotionID), promotionID.String())
}

// GetByArtifactID retrieves the most recent promotion run for an artifact
func (r *PromotionRepository) GetByArtifactID(ctx context.Context, artifactID uuid.UUID) (*models.PromotionRun, error) {
	query := `
		SELECT promotion_id, artifact_id, release_name, rollback_target,
		       status, stage_log, failed_stage, failure_kind, started_at, ended_at
		FROM promotion_run
		WHERE artifact_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	return r.scanOne(r.db.QueryRow(ctx, query, artifactID), artifactID.String())
}

func (r *PromotionRepository) scanOne(row pgx.Row, id string) (*models.PromotionRun, error) {
	run := &models.PromotionRun{}
	var stageLog []byte
	err := row.Scan(
		&run.PromotionID,
		&run.ArtifactID,
		&run.ReleaseName,
		&run.RollbackTarget,
		&run.Status,
		&stageLog,
		&run.FailedStage,
		&run.FailureKind,
		&run.StartedAt,
		&run.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("promotion run for %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get promotion run: %w", err)
	}

	if err := json.Unmarshal(stageLog, &run.StageLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage log: %w", err)
	}

	return run, nil
}

// List retrieves promotion runs, newest first
func (r *PromotionRepository) List(ctx context.Context, limit int) ([]*models.PromotionRun, error) {
	query := `
		SELECT promotion_id, artifact_id, release_name, rollback_target,
		       status, stage_log, failed_stage, failure_kind, started_at, ended_at
		FROM promotion_run
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotion runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PromotionRun
	for rows.Next() {
		run := &models.PromotionRun{}
		var stageLog []byte
		err := rows.Scan(
			&run.PromotionID,
			&run.ArtifactID,
			&run.ReleaseName,
			&run.RollbackTarget,
			&run.Status,
			&stageLog,
			&run.FailedStage,
			&run.FailureKind,
			&run.StartedAt,
			&run.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promotion run: %w", err)
		}
		if err := json.Unmarshal(stageLog, &run.StageLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage log: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promotion runs: %w", err)
	}

	return runs, nil
}

// SetRollbackTarget snapshots the pointer to restore before any swap happens
func (r *PromotionRepository) SetRollbackTarget(ctx context.Context, promotionID uuid.UUID, target *uuid.UUID) error {
	query := `UPDATE promotion_run SET rollback_target = $2 WHERE promotion_id = $1`

	_, err := r.db.Exec(ctx, query, promotionID, target)
	if err != nil {
		return fmt.Errorf("failed to set rollback target: %w", err)
	}

	return nil
}

// SetCurrentStage is a no-op for promotions; progress lives in the stage log
func (r *PromotionRepository) SetCurrentStage(ctx context.Context, promotionID uuid.UUID, stage string) error {
	return nil
}

// AppendStage appends one completed stage record to the promotion's stage log
func (r *PromotionRepository) AppendStage(ctx context.Context, promotionID uuid.UUID, rec models.StageRecord) error {
	entry, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stage record: %w", err)
	}

	query := `
		UPDATE promotion_run
		SET stage_log = stage_log || $2::jsonb
		WHERE promotion_id = $1 AND status = 'IN_PROGRESS'
	`

	result, err := r.db.Exec(ctx, query, promotionID, entry)
	if err != nil {
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("promotion run %s is not in progress", promotionID)
	}

	return nil
}

// MarkFailed moves the promotion to FAILED
func (r *PromotionRepository) MarkFailed(ctx context.Context, promotionID uuid.UUID, failedStage string, kind pipeline.FailureKind) error {
	return r.markTerminal(ctx, promotionID, models.StatusFailed, failedStage, string(kind))
}

// MarkRolledBack moves the promotion to ROLLED_BACK: the pointer was swapped
// and then restored. Distinct from FAILED, where no swap ever happened.
func (r *PromotionRepository) MarkRolledBack(ctx context.Context, promotionID uuid.UUID, failedStage string, kind pipeline.FailureKind) error {
	return r.markTerminal(ctx, promotionID, models.StatusRolledBack, failedStage, string(kind))
}

// MarkSucceeded moves the promotion to SUCCEEDED
func (r *PromotionRepository) MarkSucceeded(ctx context.Context, promotionID uuid.UUID) error {
	return r.markTerminal(ctx, promotionID, models.StatusSucceeded, "", "")
}

func (r *PromotionRepository) markTerminal(ctx context.Context, promotionID uuid.UUID, status models.RunStatus, failedStage, kind string) error {
	query := `
		UPDATE promotion_run
		SET status = $2, failed_stage = $3, failure_kind = $4, ended_at = NOW()
		WHERE promotion_id = $1 AND status = 'IN_PROGRESS'
	`

	_, err := r.db.Exec(ctx, query, promotionID, status, failedStage, kind)
	if err != nil {
		return fmt.Errorf("failed to mark promotion run %s: %w", status, err)
	}

	return nil
}

// CancelRequested reports false; promotions are not cancellable once started
func (r *PromotionRepository) CancelRequested(ctx context.Context, promotionID uuid.UUID) (bool, error) {
	return false, nil
}
