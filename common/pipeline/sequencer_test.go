package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/lease"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

// memoryRunStore is an in-memory RunStore for sequencer tests
type memoryRunStore struct {
	mu           sync.Mutex
	currentStage string
	stageLog     []models.StageRecord
	failedStage  string
	failureKind  FailureKind
	failed       bool
	cancel       bool
}

func (s *memoryRunStore) SetCurrentStage(_ context.Context, _ uuid.UUID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentStage = stage
	return nil
}

func (s *memoryRunStore) AppendStage(_ context.Context, _ uuid.UUID, rec models.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageLog = append(s.stageLog, rec)
	return nil
}

func (s *memoryRunStore) MarkFailed(_ context.Context, _ uuid.UUID, failedStage string, kind FailureKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.failedStage = failedStage
	s.failureKind = kind
	return nil
}

func (s *memoryRunStore) CancelRequested(_ context.Context, _ uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel, nil
}

func (s *memoryRunStore) completedStages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.stageLog))
	for _, rec := range s.stageLog {
		names = append(names, rec.Name)
	}
	return names
}

func testSequencer(store RunStore) *Sequencer {
	return NewSequencer(SequencerOpts{
		Leases:       lease.NewMemoryManager(),
		LeaseTTL:     time.Minute,
		StageTimeout: time.Second,
		Store:        store,
		Logger:       logger.New("error", "text"),
	})
}

func namedStage(name string, fn func(ctx context.Context, rc *Context) (map[string]interface{}, error)) Stage {
	return NewStage(name, fn)
}

func TestSequencer_RunsStagesInOrder(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	var order []string
	stageFn := func(name string) Stage {
		return namedStage(name, func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			order = append(order, name)
			return map[string]interface{}{"done": name}, nil
		})
	}

	err := seq.Run(context.Background(), rc, []Stage{stageFn("a"), stageFn("b"), stageFn("c")}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order %v, want %v", order, want)
		}
	}

	logged := store.completedStages()
	if len(logged) != 3 {
		t.Fatalf("expected 3 stage records, got %d", len(logged))
	}
	for i, name := range want {
		if logged[i] != name {
			t.Errorf("stage log %v, want %v", logged, want)
		}
	}
}

func TestSequencer_HaltsOnFirstFailure(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	thirdRan := false
	stages := []Stage{
		namedStage("ok", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			return nil, nil
		}),
		namedStage("boom", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			return nil, fmt.Errorf("provisioning blew up")
		}),
		namedStage("never", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			thirdRan = true
			return nil, nil
		}),
	}

	err := seq.Run(context.Background(), rc, stages, nil)
	if err == nil {
		t.Fatal("expected failure, got nil")
	}
	if thirdRan {
		t.Error("stage after failure must not run")
	}
	if !store.failed || store.failedStage != "boom" {
		t.Errorf("run not marked failed at boom: failed=%v stage=%s", store.failed, store.failedStage)
	}
	if store.failureKind != KindInternal {
		t.Errorf("expected internal failure kind, got %s", store.failureKind)
	}

	// Completed work before the failure stays recorded
	logged := store.completedStages()
	if len(logged) != 1 || logged[0] != "ok" {
		t.Errorf("stage log %v, want [ok]", logged)
	}
}

func TestSequencer_ClassifiedFailureKindPreserved(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	stages := []Stage{
		namedStage("gate", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			return nil, NewFailure("gate", KindBelowThreshold, fmt.Errorf("0.70 < 0.80"))
		}),
	}

	err := seq.Run(context.Background(), rc, stages, nil)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if failure.Kind != KindBelowThreshold {
		t.Errorf("expected below-threshold kind, got %s", failure.Kind)
	}
	if store.failureKind != KindBelowThreshold {
		t.Errorf("store recorded kind %s", store.failureKind)
	}
}

func TestSequencer_StageTimeout(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	stages := []Stage{
		namedStage("slow", func(ctx context.Context, _ *Context) (map[string]interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}

	err := seq.Run(context.Background(), rc, stages, func(string) time.Duration {
		return 50 * time.Millisecond
	})

	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %T (%v)", err, err)
	}
	if failure.Kind != KindTimeout {
		t.Errorf("expected timeout kind, got %s", failure.Kind)
	}
	if store.failureKind != KindTimeout {
		t.Errorf("store recorded kind %s", store.failureKind)
	}
}

func TestSequencer_CancellationBetweenStages(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	secondRan := false
	stages := []Stage{
		namedStage("first", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			// Request cancellation while the first stage is in flight;
			// it must still complete, and only the next stage is skipped.
			store.mu.Lock()
			store.cancel = true
			store.mu.Unlock()
			return nil, nil
		}),
		namedStage("second", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			secondRan = true
			return nil, nil
		}),
	}

	err := seq.Run(context.Background(), rc, stages, nil)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %T", err)
	}
	if failure.Kind != KindCanceled {
		t.Errorf("expected canceled kind, got %s", failure.Kind)
	}
	if secondRan {
		t.Error("stage after cancellation must not run")
	}

	logged := store.completedStages()
	if len(logged) != 1 || logged[0] != "first" {
		t.Errorf("in-flight stage must complete and be recorded, log %v", logged)
	}
}

func TestSequencer_ExclusiveLease(t *testing.T) {
	store := &memoryRunStore{}
	leases := lease.NewMemoryManager()
	seq := NewSequencer(SequencerOpts{
		Leases: leases,
		Store:  store,
		Logger: logger.New("error", "text"),
	})

	runID := uuid.New()
	rc := NewContext(runID, "agent", nil)

	// Another worker already holds this run's lease
	held, err := leases.Acquire(context.Background(), runID.String(), time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire failed: %v", err)
	}
	defer held.Release(context.Background())

	err = seq.Run(context.Background(), rc, []Stage{
		namedStage("any", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			return nil, nil
		}),
	}, nil)

	if !errors.Is(err, lease.ErrHeld) {
		t.Errorf("expected lease.ErrHeld, got %v", err)
	}
	if len(store.completedStages()) != 0 {
		t.Error("no stage may run without the lease")
	}
}

func TestSequencer_OutputsVisibleToLaterStages(t *testing.T) {
	store := &memoryRunStore{}
	seq := testSequencer(store)
	rc := NewContext(uuid.New(), "agent", nil)

	stages := []Stage{
		namedStage("produce", func(_ context.Context, _ *Context) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "abc"}, nil
		}),
		namedStage("consume", func(_ context.Context, rc *Context) (map[string]interface{}, error) {
			out, ok := rc.Output("produce")
			if !ok || out["id"] != "abc" {
				return nil, fmt.Errorf("missing upstream output")
			}
			return nil, nil
		}),
	}

	if err := seq.Run(context.Background(), rc, stages, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}
