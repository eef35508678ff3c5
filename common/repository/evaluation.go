package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/db"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EvaluationRepository handles database operations for evaluation results
type EvaluationRepository struct {
	db *db.DB
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(db *db.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Create inserts an evaluation result. Results are immutable once written.
func (r *EvaluationRepository) Create(ctx context.Context, result *models.EvaluationResult) error {
	query := `
		INSERT INTO evaluation_result (
			run_id, total_cases, passed_cases, success_rate,
			threshold, verdict, details, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	details, err := json.Marshal(result.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation details: %w", err)
	}

	_, err = r.db.Exec(ctx, query,
		result.RunID,
		result.TotalCases,
		result.PassedCases,
		result.SuccessRate,
		result.Threshold,
		result.Verdict,
		details,
		result.RecordedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create evaluation result: %w", err)
	}

	return nil
}

// GetByRunID retrieves the evaluation result for a build run
func (r *EvaluationRepository) GetByRunID(ctx context.Context, runID uuid.UUID) (*models.EvaluationResult, error) {
	query := `
		SELECT run_id, total_cases, passed_cases, success_rate,
		       threshold, verdict, details, recorded_at
		FROM evaluation_result
		WHERE run_id = $1
	`

	result := &models.EvaluationResult{}
	var details []byte
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&result.RunID,
		&result.TotalCases,
		&result.PassedCases,
		&result.SuccessRate,
		&result.Threshold,
		&result.Verdict,
		&details,
		&result.RecordedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("evaluation result for run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get evaluation result: %w", err)
	}

	if err := json.Unmarshal(details, &result.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evaluation details: %w", err)
	}

	return result, nil
}
