package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the outcome of the evaluation gate
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// EvaluationResult is the scored outcome of a build run's test suite.
// Owned by the run that produced it; immutable once recorded.
// Maps to: evaluation_result table
type EvaluationResult struct {
	RunID uuid.UUID `db:"run_id" json:"run_id"`

	TotalCases  int `db:"total_cases" json:"total_cases"`
	PassedCases int `db:"passed_cases" json:"passed_cases"`

	// passed/total, in [0,1]
	SuccessRate float64 `db:"success_rate" json:"success_rate"`

	// Threshold the gate compared against
	Threshold float64 `db:"threshold" json:"threshold"`

	Verdict Verdict `db:"verdict" json:"verdict"`

	// Per-case details (JSONB), kept for audit
	Details []CaseResult `db:"details" json:"details,omitempty"`

	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// CaseResult is the outcome of a single test case
type CaseResult struct {
	Name            string   `json:"name"`
	Passed          bool     `json:"passed"`
	KeywordsFound   []string `json:"keywords_found,omitempty"`
	KeywordsMissing []string `json:"keywords_missing,omitempty"`
	ResponseLength  int      `json:"response_length"`
	Error           string   `json:"error,omitempty"`
}
