package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/cmd/pipeline-runner/stages"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/config"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/evaluation"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/gate"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/provisioner"
	"github.com/google/uuid"
)

// RunStore is the run persistence the runner needs beyond the sequencer
type RunStore interface {
	GetByID(ctx context.Context, runID uuid.UUID) (*models.BuildRun, error)
	MarkSucceeded(ctx context.Context, runID uuid.UUID) error
}

// Runner executes build runs end to end: construction stages, the
// evaluation gate and artifact registration, then reports the terminal
// status on the bus.
type Runner struct {
	def        *pipeline.Definition
	seq        *pipeline.Sequencer
	runs       RunStore
	artifacts  stages.ArtifactStore
	results    stages.ResultStore
	prov       provisioner.Provisioner
	evaluator  *evaluation.Runner
	conditions *gate.ConditionEvaluator
	cases      []evaluation.Case
	flags      config.FeatureFlags
	bus        eventbus.Bus
	log        *logger.Logger
}

// Opts contains the dependencies for a Runner
type Opts struct {
	Definition *pipeline.Definition
	Sequencer  *pipeline.Sequencer
	Runs       RunStore
	Artifacts  stages.ArtifactStore
	Results    stages.ResultStore
	Prov       provisioner.Provisioner
	Evaluator  *evaluation.Runner
	Flags      config.FeatureFlags
	Bus        eventbus.Bus
	Logger     *logger.Logger
}

// New creates a Runner, loading the definition's evaluation suite
func New(opts Opts) (*Runner, error) {
	cases, err := evaluation.LoadCases(opts.Definition.Evaluation.CasesPath)
	if err != nil {
		return nil, fmt.Errorf("load evaluation suite: %w", err)
	}

	return &Runner{
		def:        opts.Definition,
		seq:        opts.Sequencer,
		runs:       opts.Runs,
		artifacts:  opts.Artifacts,
		results:    opts.Results,
		prov:       opts.Prov,
		evaluator:  opts.Evaluator,
		conditions: gate.NewConditionEvaluator(),
		cases:      cases,
		flags:      opts.Flags,
		bus:        opts.Bus,
		log:        opts.Logger,
	}, nil
}

// Execute runs one build request to a terminal state
func (r *Runner) Execute(ctx context.Context, event models.BuildRequested) error {
	log := r.log.WithRunID(event.RunID.String())

	run, err := r.runs.GetByID(ctx, event.RunID)
	if err != nil {
		return fmt.Errorf("load build run: %w", err)
	}
	if run.Status.Terminal() {
		// Redelivered request for a finished run
		log.Warn("ignoring build request for terminal run", "status", string(run.Status))
		return nil
	}

	stageList, err := r.buildStages()
	if err != nil {
		return fmt.Errorf("assemble stage list: %w", err)
	}

	rc := pipeline.NewContext(event.RunID, event.AgentName, r.def.Params)

	runErr := r.seq.Run(ctx, rc, stageList, func(stage string) time.Duration {
		return r.def.StageTimeout(stage, 0)
	})

	if runErr != nil {
		var failure *pipeline.Failure
		if errors.As(runErr, &failure) {
			log.Warn("build run failed",
				"stage", failure.Stage,
				"kind", string(failure.Kind))
			return r.publishFinished(ctx, event.RunID, models.StatusFailed, failure.Stage, nil)
		}
		// Infrastructure error before any stage verdict; leave the run
		// for redelivery.
		return runErr
	}

	if err := r.runs.MarkSucceeded(ctx, event.RunID); err != nil {
		return fmt.Errorf("mark run succeeded: %w", err)
	}

	var artifactID *uuid.UUID
	if out, ok := rc.Output(stages.StageRegister); ok {
		if raw, _ := out["artifact_id"].(string); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				artifactID = &id
			}
		}
	}

	log.Info("build run succeeded", "artifact_id", artifactID)
	return r.publishFinished(ctx, event.RunID, models.StatusSucceeded, "", artifactID)
}

// buildStages assembles the stage list declared by the definition, honoring
// toggles and feature flags. Unknown stage names are a configuration error.
func (r *Runner) buildStages() ([]pipeline.Stage, error) {
	var groups []string
	if raw := strings.TrimSpace(r.def.Params["action_groups"]); raw != "" {
		for _, g := range strings.Split(raw, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
	}

	var list []pipeline.Stage
	for _, name := range r.def.StageNames() {
		if !r.def.ToggleEnabled(name) {
			continue
		}

		switch name {
		case stages.StageSetup:
			list = append(list, stages.Setup(r.prov))
		case stages.StageCreateAgent:
			list = append(list, stages.CreateAgent(r.prov))
		case stages.StageCreateKnowledgeBase:
			if !r.flags.EnableKnowledgeBase {
				continue
			}
			list = append(list, stages.CreateKnowledgeBase(r.prov))
		case stages.StageDeployActionGroups:
			if !r.flags.EnableActionGroups {
				continue
			}
			list = append(list, stages.DeployActionGroups(r.prov, groups))
		case stages.StagePrepareAgent:
			list = append(list, stages.PrepareAgent(r.prov))
		case stages.StageEvaluate:
			list = append(list, stages.Evaluate(r.evaluator, r.cases, r.def.Evaluation, r.conditions, r.results))
		case stages.StageRegister:
			list = append(list, stages.Register(r.artifacts))
		default:
			return nil, fmt.Errorf("unknown stage %q in pipeline %s", name, r.def.Name)
		}
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("pipeline %s has no enabled stages", r.def.Name)
	}

	return list, nil
}

func (r *Runner) publishFinished(ctx context.Context, runID uuid.UUID, status models.RunStatus, failedStage string, artifactID *uuid.UUID) error {
	event := models.BuildFinished{
		RunID:       runID,
		Status:      status,
		FailedStage: failedStage,
		ArtifactID:  artifactID,
		FinishedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal build finished event: %w", err)
	}

	topic := eventbus.TopicBuildCompleted
	if status != models.StatusSucceeded {
		topic = eventbus.TopicBuildFailed
	}

	return r.bus.Publish(ctx, topic, runID.String(), payload)
}
