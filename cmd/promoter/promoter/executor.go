package promoter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/lease"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/provisioner"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/repository"
	"github.com/google/uuid"
)

// Promotion stage names recorded in the stage log
const (
	StageMaterialize = "materialize_alias"
	StageSwapPointer = "swap_pointer"
	StageVerify      = "verify"
)

// Checker runs post-swap integration checks against the live release
type Checker interface {
	Check(ctx context.Context, releaseName string, artifactID uuid.UUID) error
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context, releaseName string, artifactID uuid.UUID) error

func (f CheckerFunc) Check(ctx context.Context, releaseName string, artifactID uuid.UUID) error {
	return f(ctx, releaseName, artifactID)
}

// ArtifactReader is the read access the executor needs to artifacts
type ArtifactReader interface {
	GetArtifact(ctx context.Context, artifactID uuid.UUID) (*models.ArtifactRecord, error)
}

// PromotionStore persists promotion runs
type PromotionStore interface {
	Create(ctx context.Context, run *models.PromotionRun) error
	GetByArtifactID(ctx context.Context, artifactID uuid.UUID) (*models.PromotionRun, error)
	SetRollbackTarget(ctx context.Context, promotionID uuid.UUID, target *uuid.UUID) error
	AppendStage(ctx context.Context, promotionID uuid.UUID, rec models.StageRecord) error
	MarkFailed(ctx context.Context, promotionID uuid.UUID, failedStage string, kind pipeline.FailureKind) error
	MarkRolledBack(ctx context.Context, promotionID uuid.UUID, failedStage string, kind pipeline.FailureKind) error
	MarkSucceeded(ctx context.Context, promotionID uuid.UUID) error
}

// ReleaseStore persists release pointers and their move history
type ReleaseStore interface {
	GetByName(ctx context.Context, name string) (*models.Release, error)
	Create(ctx context.Context, name string, artifactID uuid.UUID, movedBy string) error
	CompareAndSwap(ctx context.Context, name string, expectedVersion int64, newArtifactID uuid.UUID, movedBy string) (bool, error)
	Move(ctx context.Context, name string, from *uuid.UUID, to uuid.UUID, movedBy string) error
}

// Executor moves the release pointer for an approved artifact. The rollback
// target is snapshotted before any swap: a failure after the swap restores
// the pointer and ends the run ROLLED_BACK; a failure before the swap ends
// it FAILED with the pointer untouched.
type Executor struct {
	artifacts  ArtifactReader
	promotions PromotionStore
	releases   ReleaseStore
	prov       provisioner.Provisioner
	checker    Checker
	leases     lease.Manager
	leaseTTL   time.Duration
	bus        eventbus.Bus
	log        *logger.Logger
}

// ExecutorOpts contains the dependencies for an Executor
type ExecutorOpts struct {
	Artifacts  ArtifactReader
	Promotions PromotionStore
	Releases   ReleaseStore
	Prov       provisioner.Provisioner
	Checker    Checker
	Leases     lease.Manager
	LeaseTTL   time.Duration
	Bus        eventbus.Bus
	Logger     *logger.Logger
}

// NewExecutor creates a promotion executor
func NewExecutor(opts ExecutorOpts) *Executor {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.Checker == nil {
		opts.Checker = CheckerFunc(func(context.Context, string, uuid.UUID) error { return nil })
	}
	return &Executor{
		artifacts:  opts.Artifacts,
		promotions: opts.Promotions,
		releases:   opts.Releases,
		prov:       opts.Prov,
		checker:    opts.Checker,
		leases:     opts.Leases,
		leaseTTL:   opts.LeaseTTL,
		bus:        opts.Bus,
		log:        opts.Logger,
	}
}

// Execute runs one promotion request to a terminal state
func (e *Executor) Execute(ctx context.Context, event models.PromotionRequested) error {
	log := e.log.WithArtifactID(event.ArtifactID.String())

	artifact, err := e.artifacts.GetArtifact(ctx, event.ArtifactID)
	if err != nil {
		return fmt.Errorf("load artifact: %w", err)
	}
	if artifact.ApprovalState != models.ApprovalApproved {
		log.Warn("refusing to promote artifact", "approval_state", string(artifact.ApprovalState))
		return nil
	}

	// Redelivered trigger for an artifact already promoted (or promoting)
	if existing, err := e.promotions.GetByArtifactID(ctx, event.ArtifactID); err == nil {
		log.Info("promotion already exists, skipping", "promotion_id", existing.PromotionID, "status", string(existing.Status))
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check existing promotion: %w", err)
	}

	held, err := e.leases.Acquire(ctx, "promotion:"+event.ArtifactID.String(), e.leaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			log.Info("promotion in progress elsewhere, skipping")
			return nil
		}
		return fmt.Errorf("acquire promotion lease: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release promotion lease", "error", err)
		}
	}()

	run := &models.PromotionRun{
		PromotionID: uuid.New(),
		ArtifactID:  event.ArtifactID,
		ReleaseName: event.ReleaseName,
		Status:      models.StatusInProgress,
		StageLog:    []models.StageRecord{},
		StartedAt:   time.Now().UTC(),
	}
	if err := e.promotions.Create(ctx, run); err != nil {
		return fmt.Errorf("record promotion run: %w", err)
	}

	status := e.run(ctx, run, artifact, event.ApprovedBy, log)
	return e.publishFinished(ctx, run, status)
}

// run drives the promotion stages and returns the terminal status
func (e *Executor) run(ctx context.Context, run *models.PromotionRun, artifact *models.ArtifactRecord, movedBy string, log *logger.Logger) models.RunStatus {
	// Snapshot the pointer to restore before anything moves
	var current *models.Release
	rel, err := e.releases.GetByName(ctx, run.ReleaseName)
	switch {
	case err == nil:
		current = rel
		run.RollbackTarget = &rel.ArtifactID
	case errors.Is(err, repository.ErrNotFound):
		// First-ever promotion: nothing to roll back to
	default:
		return e.fail(ctx, run, StageSwapPointer, pipeline.KindInternal, err, log)
	}
	if err := e.promotions.SetRollbackTarget(ctx, run.PromotionID, run.RollbackTarget); err != nil {
		return e.fail(ctx, run, StageSwapPointer, pipeline.KindInternal, err, log)
	}

	// Materialize the serving alias for the new artifact version
	handle, err := e.prov.CreateOrUpdate(ctx, provisioner.Spec{
		Kind: "release_alias",
		Name: run.ReleaseName + "-" + artifact.AgentName,
		Properties: map[string]interface{}{
			"agent_name":    artifact.AgentName,
			"agent_version": artifact.AgentVersion,
		},
	})
	if err != nil {
		return e.fail(ctx, run, StageMaterialize, pipeline.KindProvision, err, log)
	}
	e.appendStage(ctx, run, StageMaterialize, map[string]interface{}{
		"alias_id": handle.ID,
	}, log)

	// Swap the pointer
	if current == nil {
		if err := e.releases.Create(ctx, run.ReleaseName, run.ArtifactID, movedBy); err != nil {
			return e.fail(ctx, run, StageSwapPointer, pipeline.KindInternal, err, log)
		}
	} else {
		swapped, err := e.releases.CompareAndSwap(ctx, run.ReleaseName, current.Version, run.ArtifactID, movedBy)
		if err != nil {
			return e.fail(ctx, run, StageSwapPointer, pipeline.KindInternal, err, log)
		}
		if !swapped {
			// Someone moved the pointer since the snapshot; the snapshot
			// is stale, so refuse rather than clobber.
			return e.fail(ctx, run, StageSwapPointer, pipeline.KindInternal,
				fmt.Errorf("release %s moved concurrently", run.ReleaseName), log)
		}
		if err := e.releases.Move(ctx, run.ReleaseName, run.RollbackTarget, run.ArtifactID, movedBy); err != nil {
			log.Warn("failed to record release move", "error", err)
		}
	}
	e.appendStage(ctx, run, StageSwapPointer, map[string]interface{}{
		"release":     run.ReleaseName,
		"artifact_id": run.ArtifactID.String(),
	}, log)

	// Post-swap verification; a failure here restores the old pointer
	if err := e.checker.Check(ctx, run.ReleaseName, run.ArtifactID); err != nil {
		log.Warn("integration check failed, rolling back", "error", err)
		return e.rollback(ctx, run, movedBy, err, log)
	}
	e.appendStage(ctx, run, StageVerify, nil, log)

	if err := e.promotions.MarkSucceeded(ctx, run.PromotionID); err != nil {
		log.Error("failed to mark promotion succeeded", "error", err)
	}
	log.Info("promotion succeeded", "promotion_id", run.PromotionID, "release", run.ReleaseName)
	return models.StatusSucceeded
}

// rollback restores the snapshotted pointer after a post-swap failure
func (e *Executor) rollback(ctx context.Context, run *models.PromotionRun, movedBy string, cause error, log *logger.Logger) models.RunStatus {
	if run.RollbackTarget != nil {
		rel, err := e.releases.GetByName(ctx, run.ReleaseName)
		if err != nil {
			log.Error("rollback failed: cannot load release", "error", err)
		} else {
			restored, err := e.releases.CompareAndSwap(ctx, run.ReleaseName, rel.Version, *run.RollbackTarget, "rollback:"+movedBy)
			if err != nil || !restored {
				log.Error("rollback failed: pointer not restored", "error", err)
			} else if err := e.releases.Move(ctx, run.ReleaseName, &run.ArtifactID, *run.RollbackTarget, "rollback:"+movedBy); err != nil {
				log.Warn("failed to record rollback move", "error", err)
			}
		}
	}
	// With no rollback target the release was created by this run; the
	// pointer stays but the run is still marked rolled back so the failed
	// verification is visible.

	if err := e.promotions.MarkRolledBack(ctx, run.PromotionID, StageVerify, pipeline.KindIntegrationCheck); err != nil {
		log.Error("failed to mark promotion rolled back", "error", err)
	}
	log.Warn("promotion rolled back", "promotion_id", run.PromotionID, "cause", cause)
	return models.StatusRolledBack
}

func (e *Executor) fail(ctx context.Context, run *models.PromotionRun, stage string, kind pipeline.FailureKind, cause error, log *logger.Logger) models.RunStatus {
	if err := e.promotions.MarkFailed(ctx, run.PromotionID, stage, kind); err != nil {
		log.Error("failed to mark promotion failed", "error", err)
	}
	log.Warn("promotion failed", "promotion_id", run.PromotionID, "stage", stage, "kind", string(kind), "error", cause)
	return models.StatusFailed
}

func (e *Executor) appendStage(ctx context.Context, run *models.PromotionRun, stage string, output map[string]interface{}, log *logger.Logger) {
	rec := models.StageRecord{
		Name:        stage,
		CompletedAt: time.Now().UTC(),
		Output:      output,
	}
	if err := e.promotions.AppendStage(ctx, run.PromotionID, rec); err != nil {
		log.Warn("failed to append promotion stage record", "stage", stage, "error", err)
	}
}

func (e *Executor) publishFinished(ctx context.Context, run *models.PromotionRun, status models.RunStatus) error {
	event := models.PromotionFinished{
		PromotionID: run.PromotionID,
		ArtifactID:  run.ArtifactID,
		Status:      status,
		FinishedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal promotion finished event: %w", err)
	}

	return e.bus.Publish(ctx, eventbus.TopicPromotionFinished, run.ArtifactID.String(), payload)
}
