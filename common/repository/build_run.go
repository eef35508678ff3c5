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

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// BuildRunRepository handles database operations for build runs.
// It implements pipeline.RunStore so the sequencer can persist progress.
type BuildRunRepository struct {
	db *db.DB
}

// NewBuildRunRepository creates a new build run repository
func NewBuildRunRepository(db *db.DB) *BuildRunRepository {
	return &BuildRunRepository{db: db}
}

// Create inserts a new build run
func (r *BuildRunRepository) Create(ctx context.Context, run *models.BuildRun) error {
	query := `
		INSERT INTO build_run (
			run_id, pipeline_name, agent_name, trigger_kind, status,
			current_stage, stage_log, cancel_requested, submitted_by, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	stageLog, err := json.Marshal(run.StageLog)
	if err != nil {
		return fmt.Errorf("failed to marshal stage log: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		run.RunID,
		run.PipelineName,
		run.AgentName,
		run.Trigger,
		run.Status,
		run.CurrentStage,
		stageLog,
		run.CancelRequested,
		run.SubmittedBy,
		run.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create build run: %w", err)
	}

	return nil
}

// GetByID retrieves a build run by its ID
func (r *BuildRunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*models.BuildRun, error) {
	query := `
		SELECT run_id, pipeline_name, agent_name, trigger_kind, status,
		       current_stage, stage_log, failed_stage, failure_kind,
		       cancel_requested, submitted_by, started_at, ended_at
		FROM build_run
		WHERE run_id = $1
	`

	run := &models.BuildRun{}
	var stageLog []byte
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&run.RunID,
		&run.PipelineName,
		&run.AgentName,
		&run.Trigger,
		&run.Status,
		&run.CurrentStage,
		&stageLog,
		&run.FailedStage,
		&run.FailureKind,
		&run.CancelRequested,
		&run.SubmittedBy,
		&run.StartedAt,
		&run.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("build run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get build run: %w", err)
	}

	if err := json.Unmarshal(stageLog, &run.StageLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage log: %w", err)
	}

	return run, nil
}

// List retrieves build runs, newest first
func (r *BuildRunRepository) List(ctx context.Context, limit int) ([]*models.BuildRun, error) {
	query := `
		SELECT run_id, pipeline_name, agent_name, trigger_kind, status,
		       current_stage, stage_log, failed_stage, failure_kind,
		       cancel_requested, submitted_by, started_at, ended_at
		FROM build_run
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list build runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BuildRun
	for rows.Next() {
		run := &models.BuildRun{}
		var stageLog []byte
		err := rows.Scan(
			&run.RunID,
			&run.PipelineName,
			&run.AgentName,
			&run.Trigger,
			&run.Status,
			&run.CurrentStage,
			&stageLog,
			&run.FailedStage,
			&run.FailureKind,
			&run.CancelRequested,
			&run.SubmittedBy,
			&run.StartedAt,
			&run.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build run: %w", err)
		}
		if err := json.Unmarshal(stageLog, &run.StageLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage log: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build runs: %w", err)
	}

	return runs, nil
}

// SetCurrentStage records which stage is executing
func (r *BuildRunRepository) SetCurrentStage(ctx context.Context, runID uuid.UUID, stage string) error {
	query := `UPDATE build_run SET current_stage = $2 WHERE run_id = $1 AND status = 'IN_PROGRESS'`

	result, err := r.db.Exec(ctx, query, runID, stage)
	if err != nil {
		return fmt.Errorf("failed to set current stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("build run %s is not in progress", runID)
	}

	return nil
}

// AppendStage appends one completed stage record to the run's stage log.
// The log is append-only: existing entries are never rewritten.
func (r *BuildRunRepository) AppendStage(ctx context.Context, runID uuid.UUID, rec models.StageRecord) error {
	entry, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stage record: %w", err)
	}

	query := `
		UPDATE build_run
		SET stage_log = stage_log || $2::jsonb
		WHERE run_id = $1 AND status = 'IN_PROGRESS'
	`

	result, err := r.db.Exec(ctx, query, runID, entry)
	if err != nil {
		return fmt.Errorf("failed to append stage record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("build run %s is not in progress", runID)
	}

	return nil
}

// MarkFailed moves the run to FAILED, recording the halting stage and kind
func (r *BuildRunRepository) MarkFailed(ctx context.Context, runID uuid.UUID, failedStage string, kind pipeline.FailureKind) error {
	query := `
		UPDATE build_run
		SET status = 'FAILED', failed_stage = $2, failure_kind = $3,
		    current_stage = '', ended_at = NOW()
		WHERE run_id = $1 AND status = 'IN_PROGRESS'
	`

	_, err := r.db.Exec(ctx, query, runID, failedStage, string(kind))
	if err != nil {
		return fmt.Errorf("failed to mark build run failed: %w", err)
	}

	return nil
}

// MarkSucceeded moves the run to SUCCEEDED
func (r *BuildRunRepository) MarkSucceeded(ctx context.Context, runID uuid.UUID) error {
	query := `
		UPDATE build_run
		SET status = 'SUCCEEDED', current_stage = '', ended_at = NOW()
		WHERE run_id = $1 AND status = 'IN_PROGRESS'
	`

	result, err := r.db.Exec(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to mark build run succeeded: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("build run %s is not in progress", runID)
	}

	return nil
}

// RequestCancel flags the run for cooperative cancellation. Terminal runs
// are left untouched.
func (r *BuildRunRepository) RequestCancel(ctx context.Context, runID uuid.UUID) (bool, error) {
	query := `
		UPDATE build_run
		SET cancel_requested = TRUE
		WHERE run_id = $1 AND status = 'IN_PROGRESS'
	`

	result, err := r.db.Exec(ctx, query, runID)
	if err != nil {
		return false, fmt.Errorf("failed to request cancellation: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// CancelRequested reports whether cancellation was requested for the run
func (r *BuildRunRepository) CancelRequested(ctx context.Context, runID uuid.UUID) (bool, error) {
	query := `SELECT cancel_requested FROM build_run WHERE run_id = $1`

	var cancelled bool
	err := r.db.QueryRow(ctx, query, runID).Scan(&cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("build run %s: %w", runID, ErrNotFound)
		}
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}

	return cancelled, nil
}
