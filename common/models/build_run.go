package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the status of a build or promotion run
type RunStatus string

const (
	StatusInProgress RunStatus = "IN_PROGRESS"
	StatusSucceeded  RunStatus = "SUCCEEDED"
	StatusFailed     RunStatus = "FAILED"
	StatusRolledBack RunStatus = "ROLLED_BACK"
)

// Terminal reports whether the status is a terminal state
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// TriggerKind records how a build run was started
type TriggerKind string

const (
	TriggerPush   TriggerKind = "push"
	TriggerManual TriggerKind = "manual"
)

// StageRecord is one entry in the append-only stage log of a run
type StageRecord struct {
	Name        string                 `json:"name"`
	CompletedAt time.Time              `json:"completed_at"`
	Output      map[string]interface{} `json:"output,omitempty"`
}

// BuildRun represents one attempt to construct a deployable agent version
// Maps to: build_run table
type BuildRun struct {
	// Unique run ID
	RunID uuid.UUID `db:"run_id" json:"run_id"`

	// Pipeline definition this run executes
	PipelineName string `db:"pipeline_name" json:"pipeline_name"`

	// Agent under construction
	AgentName string `db:"agent_name" json:"agent_name"`

	// How the run was triggered
	Trigger TriggerKind `db:"trigger_kind" json:"trigger"`

	// Run status
	Status RunStatus `db:"status" json:"status"`

	// Stage currently executing (empty once terminal)
	CurrentStage string `db:"current_stage" json:"current_stage,omitempty"`

	// Append-only log of completed stages, in execution order (JSONB)
	StageLog []StageRecord `db:"stage_log" json:"stage_log"`

	// Name and failure kind of the stage that halted the run, if any
	FailedStage string `db:"failed_stage" json:"failed_stage,omitempty"`
	FailureKind string `db:"failure_kind" json:"failure_kind,omitempty"`

	// Cooperative cancellation: checked by the sequencer between stages
	CancelRequested bool `db:"cancel_requested" json:"cancel_requested"`

	// Audit fields
	SubmittedBy *string    `db:"submitted_by" json:"submitted_by,omitempty"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	EndedAt     *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// CompletedStages returns the stage names in completion order
func (r *BuildRun) CompletedStages() []string {
	names := make([]string, 0, len(r.StageLog))
	for _, rec := range r.StageLog {
		names = append(names, rec.Name)
	}
	return names
}
