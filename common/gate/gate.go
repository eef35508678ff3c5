package gate

import (
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

// Evaluate converts a test-suite score into a pass/fail verdict.
// The boundary is inclusive: a run scoring exactly the threshold passes.
// A suite with zero cases is an input error, never a verdict.
func Evaluate(runID uuid.UUID, passed, total int, threshold float64) (*models.EvaluationResult, error) {
	if total <= 0 {
		return nil, fmt.Errorf("evaluation requires at least one test case, got total=%d", total)
	}
	if passed < 0 || passed > total {
		return nil, fmt.Errorf("passed count %d out of range [0,%d]", passed, total)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in [0,1], got %f", threshold)
	}

	ratio := float64(passed) / float64(total)

	verdict := models.VerdictFail
	if ratio >= threshold {
		verdict = models.VerdictPass
	}

	return &models.EvaluationResult{
		RunID:       runID,
		TotalCases:  total,
		PassedCases: passed,
		SuccessRate: ratio,
		Threshold:   threshold,
		Verdict:     verdict,
		RecordedAt:  time.Now().UTC(),
	}, nil
}
