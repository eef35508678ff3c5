package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/lease"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

// RunStore persists run progress. A stage only starts after the previous
// stage's record has been durably written through this interface.
type RunStore interface {
	// SetCurrentStage records which stage is executing
	SetCurrentStage(ctx context.Context, runID uuid.UUID, stage string) error
	// AppendStage appends a completed stage to the run's stage log
	AppendStage(ctx context.Context, runID uuid.UUID, rec models.StageRecord) error
	// MarkFailed moves the run to its terminal FAILED state
	MarkFailed(ctx context.Context, runID uuid.UUID, failedStage string, kind FailureKind) error
	// CancelRequested reports whether cancellation was requested for the run
	CancelRequested(ctx context.Context, runID uuid.UUID) (bool, error)
}

// Sequencer executes an ordered stage list for a run: strictly in order,
// halting on first failure, with an exclusive lease on the run identifier
// and a timeout per stage. Cancellation is cooperative and only observed
// between stages; in-flight handlers are not preempted.
type Sequencer struct {
	leases       lease.Manager
	leaseTTL     time.Duration
	stageTimeout time.Duration
	store        RunStore
	log          *logger.Logger
}

// SequencerOpts contains options for creating a sequencer
type SequencerOpts struct {
	Leases       lease.Manager
	LeaseTTL     time.Duration
	StageTimeout time.Duration
	Store        RunStore
	Logger       *logger.Logger
}

// NewSequencer creates a sequencer
func NewSequencer(opts SequencerOpts) *Sequencer {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 15 * time.Minute
	}
	return &Sequencer{
		leases:       opts.Leases,
		leaseTTL:     opts.LeaseTTL,
		stageTimeout: opts.StageTimeout,
		store:        opts.Store,
		log:          opts.Logger,
	}
}

// TimeoutFor lets callers override the per-stage window, e.g. from a
// Definition's stage timeouts.
type TimeoutFor func(stage string) time.Duration

// Run executes stages in order for the run in rc. On the first failure the
// run is marked FAILED with the failing stage name and no further stages
// execute. Returns the recorded *Failure, or nil when every stage completed.
func (s *Sequencer) Run(ctx context.Context, rc *Context, stages []Stage, timeoutFor TimeoutFor) error {
	log := s.log.WithRunID(rc.RunID.String())

	held, err := s.leases.Acquire(ctx, rc.RunID.String(), s.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire run lease: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release run lease", "error", err)
		}
	}()

	for _, stage := range stages {
		name := stage.Name()

		cancelled, err := s.store.CancelRequested(ctx, rc.RunID)
		if err != nil {
			return fmt.Errorf("check cancellation: %w", err)
		}
		if cancelled {
			log.Info("run cancelled, halting before stage", "stage", name)
			failure := NewFailure(name, KindCanceled, nil)
			if err := s.store.MarkFailed(ctx, rc.RunID, name, KindCanceled); err != nil {
				return fmt.Errorf("mark cancelled run failed: %w", err)
			}
			return failure
		}

		if err := s.store.SetCurrentStage(ctx, rc.RunID, name); err != nil {
			return fmt.Errorf("record current stage: %w", err)
		}

		log.Info("stage starting", "stage", name)
		started := time.Now()

		output, execErr := s.executeWithTimeout(ctx, stage, rc, s.windowFor(name, timeoutFor))
		if execErr != nil {
			failure := ClassifyFailure(name, execErr)
			log.Warn("stage failed",
				"stage", name,
				"kind", string(failure.Kind),
				"error", execErr,
				"duration_ms", time.Since(started).Milliseconds())

			if err := s.store.MarkFailed(ctx, rc.RunID, name, failure.Kind); err != nil {
				return fmt.Errorf("mark run failed: %w", err)
			}
			return failure
		}

		// Completion may only be recorded while we still own the lease;
		// a lost lease means another sequencer may have taken the run over.
		alive, err := held.Alive(ctx)
		if err != nil {
			return fmt.Errorf("check run lease: %w", err)
		}
		if !alive {
			log.Error("run lease lost, refusing to record stage completion", "stage", name)
			failure := NewFailure(name, KindTimeout, fmt.Errorf("run lease expired"))
			if err := s.store.MarkFailed(ctx, rc.RunID, name, KindTimeout); err != nil {
				return fmt.Errorf("mark run failed after lease loss: %w", err)
			}
			return failure
		}

		rec := models.StageRecord{
			Name:        name,
			CompletedAt: time.Now().UTC(),
			Output:      output,
		}
		if err := s.store.AppendStage(ctx, rc.RunID, rec); err != nil {
			return fmt.Errorf("append stage record: %w", err)
		}
		rc.RecordOutput(name, output)

		log.Info("stage completed", "stage", name, "duration_ms", time.Since(started).Milliseconds())
	}

	return nil
}

func (s *Sequencer) windowFor(stage string, timeoutFor TimeoutFor) time.Duration {
	if timeoutFor != nil {
		if d := timeoutFor(stage); d > 0 {
			return d
		}
	}
	return s.stageTimeout
}

type stageResult struct {
	output map[string]interface{}
	err    error
}

// executeWithTimeout runs one stage within its window. A stage that does not
// report completion in time fails with KindTimeout; its goroutine is not
// preempted but its result is discarded.
func (s *Sequencer) executeWithTimeout(ctx context.Context, stage Stage, rc *Context, window time.Duration) (map[string]interface{}, error) {
	stageCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		out, err := stage.Execute(stageCtx, rc)
		done <- stageResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if stageCtx.Err() == context.DeadlineExceeded {
				return nil, NewFailure(stage.Name(), KindTimeout, res.err)
			}
			return nil, res.err
		}
		return res.output, nil
	case <-stageCtx.Done():
		if stageCtx.Err() == context.DeadlineExceeded {
			return nil, NewFailure(stage.Name(), KindTimeout, stageCtx.Err())
		}
		return nil, stageCtx.Err()
	}
}
