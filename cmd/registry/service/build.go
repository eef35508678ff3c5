package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/config"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
)

// ErrTriggerDisabled is returned when the build trigger feature flag is off
var ErrTriggerDisabled = fmt.Errorf("build trigger is disabled")

// TriggerRequest describes a request to start a build run
type TriggerRequest struct {
	PipelineName string             `json:"pipeline_name"`
	AgentName    string             `json:"agent_name"`
	Trigger      models.TriggerKind `json:"trigger"`
	SubmittedBy  string             `json:"submitted_by,omitempty"`
}

// Validate checks the request fields
func (r *TriggerRequest) Validate() error {
	if r.PipelineName == "" {
		return fmt.Errorf("pipeline_name is required")
	}
	if r.AgentName == "" {
		return fmt.Errorf("agent_name is required")
	}
	switch r.Trigger {
	case models.TriggerPush, models.TriggerManual:
	default:
		return fmt.Errorf("trigger must be %q or %q", models.TriggerPush, models.TriggerManual)
	}
	return nil
}

// BuildService is the trigger adapter: it accepts build requests from the
// API (manual) and from source-change webhooks (push), records the run and
// hands it to the pipeline runner over the bus.
type BuildService struct {
	runs  *repository.BuildRunRepository
	bus   eventbus.Bus
	flags config.FeatureFlags
	log   *logger.Logger
}

// NewBuildService creates a build service
func NewBuildService(runs *repository.BuildRunRepository, bus eventbus.Bus, flags config.FeatureFlags, log *logger.Logger) *BuildService {
	return &BuildService{
		runs:  runs,
		bus:   bus,
		flags: flags,
		log:   log,
	}
}

// Trigger records a new build run and publishes it for the pipeline runner
func (s *BuildService) Trigger(ctx context.Context, req TriggerRequest) (*models.BuildRun, error) {
	if !s.flags.EnableBuildTrigger {
		return nil, ErrTriggerDisabled
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run := &models.BuildRun{
		RunID:        uuid.New(),
		PipelineName: req.PipelineName,
		AgentName:    req.AgentName,
		Trigger:      req.Trigger,
		Status:       models.StatusInProgress,
		StageLog:     []models.StageRecord{},
		StartedAt:    time.Now().UTC(),
	}
	if req.SubmittedBy != "" {
		run.SubmittedBy = &req.SubmittedBy
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record build run: %w", err)
	}

	event := models.BuildRequested{
		RunID:        run.RunID,
		PipelineName: run.PipelineName,
		AgentName:    run.AgentName,
		Trigger:      run.Trigger,
		SubmittedBy:  req.SubmittedBy,
		RequestedAt:  run.StartedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal build request: %w", err)
	}

	if err := s.bus.Publish(ctx, eventbus.TopicBuildRequested, run.RunID.String(), payload); err != nil {
		// The run row stays IN_PROGRESS without a consumer; mark it so
		// operators don't chase a run that never started.
		if markErr := s.runs.MarkFailed(ctx, run.RunID, "", pipeline.KindInternal); markErr != nil {
			s.log.Error("failed to mark undispatched run", "run_id", run.RunID, "error", markErr)
		}
		return nil, fmt.Errorf("failed to publish build request: %w", err)
	}

	s.log.Info("build run triggered",
		"run_id", run.RunID,
		"pipeline", run.PipelineName,
		"agent", run.AgentName,
		"trigger", string(run.Trigger),
	)

	return run, nil
}

// Get retrieves a build run with its stage log
func (s *BuildService) Get(ctx context.Context, runID uuid.UUID) (*models.BuildRun, error) {
	return s.runs.GetByID(ctx, runID)
}

// List retrieves recent build runs
func (s *BuildService) List(ctx context.Context, limit int) ([]*models.BuildRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.List(ctx, limit)
}

// Cancel requests cooperative cancellation of a run. Returns false when the
// run was already terminal.
func (s *BuildService) Cancel(ctx context.Context, runID uuid.UUID) (bool, error) {
	accepted, err := s.runs.RequestCancel(ctx, runID)
	if err != nil {
		return false, err
	}

	if accepted {
		s.log.Info("build run cancellation requested", "run_id", runID)
	}
	return accepted, nil
}
