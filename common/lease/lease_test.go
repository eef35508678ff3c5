package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryManager_ExclusiveAcquire(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	held, err := m.Acquire(ctx, "run-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := m.Acquire(ctx, "run-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("second acquire: expected ErrHeld, got %v", err)
	}

	// A different run is unaffected
	other, err := m.Acquire(ctx, "run-2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire for other run failed: %v", err)
	}
	other.Release(ctx)
	held.Release(ctx)
}

func TestMemoryManager_ReleaseAllowsReacquire(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	held, err := m.Acquire(ctx, "run-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := m.Acquire(ctx, "run-1", time.Minute)
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	again.Release(ctx)
}

func TestMemoryManager_AliveReflectsOwnership(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	held, err := m.Acquire(ctx, "run-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	alive, err := held.Alive(ctx)
	if err != nil || !alive {
		t.Errorf("expected lease alive, got alive=%v err=%v", alive, err)
	}

	held.Release(ctx)
	alive, err = held.Alive(ctx)
	if err != nil || alive {
		t.Errorf("expected lease dead after release, got alive=%v err=%v", alive, err)
	}
}

func TestMemoryManager_ExpiredLeaseCanBeTaken(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "run-1", time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	taken, err := m.Acquire(ctx, "run-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire of expired lease failed: %v", err)
	}

	// The stale holder must observe it no longer owns the lease
	alive, err := stale.Alive(ctx)
	if err != nil || alive {
		t.Errorf("stale lease still alive: alive=%v err=%v", alive, err)
	}
	taken.Release(ctx)
}
