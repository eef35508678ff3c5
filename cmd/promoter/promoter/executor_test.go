package promoter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
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

type fakeArtifacts struct {
	records map[uuid.UUID]*models.ArtifactRecord
}

func (f *fakeArtifacts) GetArtifact(_ context.Context, id uuid.UUID) (*models.ArtifactRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", id, repository.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeArtifacts) add(state models.ApprovalState) uuid.UUID {
	id := uuid.New()
	f.records[id] = &models.ArtifactRecord{
		ArtifactID:    id,
		RunID:         uuid.New(),
		AgentName:     "support",
		AgentVersion:  "v" + id.String()[:4],
		ApprovalState: state,
		CreatedAt:     time.Now(),
	}
	return id
}

type fakePromotions struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*models.PromotionRun
}

func (f *fakePromotions) Create(_ context.Context, run *models.PromotionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.runs[run.PromotionID] = &copied
	return nil
}

func (f *fakePromotions) GetByArtifactID(_ context.Context, artifactID uuid.UUID) (*models.PromotionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.ArtifactID == artifactID {
			copied := *run
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("promotion for %s: %w", artifactID, repository.ErrNotFound)
}

func (f *fakePromotions) SetRollbackTarget(_ context.Context, id uuid.UUID, target *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].RollbackTarget = target
	return nil
}

func (f *fakePromotions) AppendStage(_ context.Context, id uuid.UUID, rec models.StageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].StageLog = append(f.runs[id].StageLog, rec)
	return nil
}

func (f *fakePromotions) MarkFailed(_ context.Context, id uuid.UUID, stage string, kind pipeline.FailureKind) error {
	return f.mark(id, models.StatusFailed, stage, kind)
}

func (f *fakePromotions) MarkRolledBack(_ context.Context, id uuid.UUID, stage string, kind pipeline.FailureKind) error {
	return f.mark(id, models.StatusRolledBack, stage, kind)
}

func (f *fakePromotions) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	return f.mark(id, models.StatusSucceeded, "", "")
}

func (f *fakePromotions) mark(id uuid.UUID, status models.RunStatus, stage string, kind pipeline.FailureKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := f.runs[id]
	run.Status = status
	run.FailedStage = stage
	run.FailureKind = string(kind)
	now := time.Now()
	run.EndedAt = &now
	return nil
}

func (f *fakePromotions) only() *models.PromotionRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		return run
	}
	return nil
}

type fakeReleases struct {
	mu      sync.Mutex
	release *models.Release
	moves   []models.ReleaseMove
}

func (f *fakeReleases) GetByName(_ context.Context, name string) (*models.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release == nil || f.release.Name != name {
		return nil, fmt.Errorf("release %s: %w", name, repository.ErrNotFound)
	}
	copied := *f.release
	return &copied, nil
}

func (f *fakeReleases) Create(_ context.Context, name string, artifactID uuid.UUID, movedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release = &models.Release{Name: name, ArtifactID: artifactID, Version: 1, MovedAt: time.Now()}
	return nil
}

func (f *fakeReleases) CompareAndSwap(_ context.Context, name string, expectedVersion int64, newArtifactID uuid.UUID, movedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release == nil || f.release.Name != name || f.release.Version != expectedVersion {
		return false, nil
	}
	f.release.ArtifactID = newArtifactID
	f.release.Version++
	return true, nil
}

func (f *fakeReleases) Move(_ context.Context, name string, from *uuid.UUID, to uuid.UUID, movedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, models.ReleaseMove{Name: name, FromArtifactID: from, ToArtifactID: to, MovedAt: time.Now()})
	return nil
}

func (f *fakeReleases) pointer() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release == nil {
		return uuid.Nil
	}
	return f.release.ArtifactID
}

type testEnv struct {
	artifacts  *fakeArtifacts
	promotions *fakePromotions
	releases   *fakeReleases
	bus        *captureBus
	executor   *Executor
}

type captureBus struct {
	mu        sync.Mutex
	published []string
}

func (b *captureBus) Publish(_ context.Context, topic, _ string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string, eventbus.MessageHandler) error { return nil }
func (b *captureBus) Close() error                                                     { return nil }

func newTestEnv(checker Checker) *testEnv {
	env := &testEnv{
		artifacts:  &fakeArtifacts{records: make(map[uuid.UUID]*models.ArtifactRecord)},
		promotions: &fakePromotions{runs: make(map[uuid.UUID]*models.PromotionRun)},
		releases:   &fakeReleases{},
		bus:        &captureBus{},
	}
	env.executor = NewExecutor(ExecutorOpts{
		Artifacts:  env.artifacts,
		Promotions: env.promotions,
		Releases:   env.releases,
		Prov:       provisioner.NewMemoryProvisioner(),
		Checker:    checker,
		Leases:     lease.NewMemoryManager(),
		Bus:        env.bus,
		Logger:     logger.New("error", "text"),
	})
	return env
}

func trigger(artifactID uuid.UUID) models.PromotionRequested {
	return models.PromotionRequested{
		ArtifactID:  artifactID,
		ReleaseName: "prod",
		ApprovedBy:  "alice",
		RequestedAt: time.Now(),
	}
}

func TestExecute_FirstPromotionCreatesRelease(t *testing.T) {
	env := newTestEnv(nil)
	id := env.artifacts.add(models.ApprovalApproved)

	if err := env.executor.Execute(context.Background(), trigger(id)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	run := env.promotions.only()
	if run.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", run.Status)
	}
	if run.RollbackTarget != nil {
		t.Error("first promotion must have no rollback target")
	}
	if env.releases.pointer() != id {
		t.Errorf("release points at %s, want %s", env.releases.pointer(), id)
	}
}

func TestExecute_SwapsPointerAndRecordsRollbackTarget(t *testing.T) {
	env := newTestEnv(nil)
	oldID := env.artifacts.add(models.ApprovalApproved)
	if err := env.executor.Execute(context.Background(), trigger(oldID)); err != nil {
		t.Fatalf("first promotion failed: %v", err)
	}

	newID := env.artifacts.add(models.ApprovalApproved)
	if err := env.executor.Execute(context.Background(), trigger(newID)); err != nil {
		t.Fatalf("second promotion failed: %v", err)
	}

	if env.releases.pointer() != newID {
		t.Errorf("release points at %s, want %s", env.releases.pointer(), newID)
	}

	run, err := env.promotions.GetByArtifactID(context.Background(), newID)
	if err != nil {
		t.Fatalf("load promotion: %v", err)
	}
	if run.RollbackTarget == nil || *run.RollbackTarget != oldID {
		t.Errorf("rollback target = %v, want %s", run.RollbackTarget, oldID)
	}
}

func TestExecute_PostSwapFailureRollsBack(t *testing.T) {
	failing := CheckerFunc(func(context.Context, string, uuid.UUID) error {
		return errors.New("smoke test failed")
	})

	env := newTestEnv(nil)
	oldID := env.artifacts.add(models.ApprovalApproved)
	if err := env.executor.Execute(context.Background(), trigger(oldID)); err != nil {
		t.Fatalf("seed promotion failed: %v", err)
	}

	env.executor.checker = failing
	newID := env.artifacts.add(models.ApprovalApproved)
	if err := env.executor.Execute(context.Background(), trigger(newID)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The pointer is restored to the pre-promotion artifact
	if env.releases.pointer() != oldID {
		t.Errorf("release points at %s after rollback, want %s", env.releases.pointer(), oldID)
	}

	run, err := env.promotions.GetByArtifactID(context.Background(), newID)
	if err != nil {
		t.Fatalf("load promotion: %v", err)
	}
	if run.Status != models.StatusRolledBack {
		t.Errorf("status = %s, want ROLLED_BACK", run.Status)
	}
	if run.FailureKind != string(pipeline.KindIntegrationCheck) {
		t.Errorf("failure kind = %s", run.FailureKind)
	}
}

func TestExecute_UnapprovedArtifactIsRefused(t *testing.T) {
	env := newTestEnv(nil)
	id := env.artifacts.add(models.ApprovalPending)

	if err := env.executor.Execute(context.Background(), trigger(id)); err != nil {
		t.Fatalf("Execute errored: %v", err)
	}

	if env.promotions.only() != nil {
		t.Error("no promotion run may be created for an unapproved artifact")
	}
	if env.releases.pointer() != uuid.Nil {
		t.Error("release pointer must not move for an unapproved artifact")
	}
}

func TestExecute_RedeliveredTriggerIsIdempotent(t *testing.T) {
	env := newTestEnv(nil)
	id := env.artifacts.add(models.ApprovalApproved)

	if err := env.executor.Execute(context.Background(), trigger(id)); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	if err := env.executor.Execute(context.Background(), trigger(id)); err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}

	env.promotions.mu.Lock()
	n := len(env.promotions.runs)
	env.promotions.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 promotion run, got %d", n)
	}
}
