package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

// fakeArtifactStore is an in-memory ArtifactStore
type fakeArtifactStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.ArtifactRecord
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{records: make(map[uuid.UUID]*models.ArtifactRecord)}
}

func (s *fakeArtifactStore) add(state models.ApprovalState) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.records[id] = &models.ArtifactRecord{
		ArtifactID:    id,
		RunID:         uuid.New(),
		AgentName:     "agent",
		AgentVersion:  "v1",
		ApprovalState: state,
		CreatedAt:     time.Now(),
	}
	return id
}

func (s *fakeArtifactStore) GetArtifact(_ context.Context, artifactID uuid.UUID) (*models.ArtifactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[artifactID]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *rec
	return &copied, nil
}

func (s *fakeArtifactStore) TransitionApproval(_ context.Context, artifactID uuid.UUID, state models.ApprovalState, approver string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[artifactID]
	if !ok || rec.ApprovalState != models.ApprovalPending {
		return false, nil
	}
	rec.ApprovalState = state
	rec.ApprovedBy = &approver
	rec.ApprovedAt = &at
	return true, nil
}

func (s *fakeArtifactStore) state(artifactID uuid.UUID) models.ApprovalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[artifactID].ApprovalState
}

// captureBus records published messages; failures > 0 makes the next
// publishes fail, simulating a transient bus outage
type captureBus struct {
	mu        sync.Mutex
	failures  int
	published []struct {
		topic string
		key   string
		value []byte
	}
}

func (b *captureBus) Publish(_ context.Context, topic, key string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("bus unavailable")
	}
	b.published = append(b.published, struct {
		topic string
		key   string
		value []byte
	}{topic, key, message})
	return nil
}

func (b *captureBus) Subscribe(context.Context, string, eventbus.MessageHandler) error {
	return nil
}

func (b *captureBus) Close() error { return nil }

func (b *captureBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func newTestGuard(store *fakeArtifactStore, bus *captureBus) *Guard {
	return NewGuard(store, bus, NewMemoryDeduper(), "prod", logger.New("error", "text"))
}

func TestGuard_ApprovePendingPublishesTrigger(t *testing.T) {
	store := newFakeArtifactStore()
	bus := &captureBus{}
	guard := newTestGuard(store, bus)
	id := store.add(models.ApprovalPending)

	if err := guard.Approve(context.Background(), id, "alice"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if got := store.state(id); got != models.ApprovalApproved {
		t.Errorf("state = %s, want APPROVED", got)
	}
	if bus.count() != 1 {
		t.Fatalf("expected exactly 1 published trigger, got %d", bus.count())
	}

	var event models.PromotionRequested
	if err := json.Unmarshal(bus.published[0].value, &event); err != nil {
		t.Fatalf("unmarshal trigger: %v", err)
	}
	if event.ArtifactID != id || event.ReleaseName != "prod" || event.ApprovedBy != "alice" {
		t.Errorf("unexpected trigger payload: %+v", event)
	}
}

func TestGuard_RejectPendingPublishesNothing(t *testing.T) {
	store := newFakeArtifactStore()
	bus := &captureBus{}
	guard := newTestGuard(store, bus)
	id := store.add(models.ApprovalPending)

	if err := guard.Reject(context.Background(), id, "bob"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	if got := store.state(id); got != models.ApprovalRejected {
		t.Errorf("state = %s, want REJECTED", got)
	}
	if bus.count() != 0 {
		t.Errorf("reject must not publish, got %d messages", bus.count())
	}
}

func TestGuard_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.ApprovalState
		call func(g *Guard, id uuid.UUID) error
	}{
		{"approve approved", models.ApprovalApproved, func(g *Guard, id uuid.UUID) error {
			return g.Approve(context.Background(), id, "alice")
		}},
		{"approve rejected", models.ApprovalRejected, func(g *Guard, id uuid.UUID) error {
			return g.Approve(context.Background(), id, "alice")
		}},
		{"reject approved", models.ApprovalApproved, func(g *Guard, id uuid.UUID) error {
			return g.Reject(context.Background(), id, "alice")
		}},
		{"reject rejected", models.ApprovalRejected, func(g *Guard, id uuid.UUID) error {
			return g.Reject(context.Background(), id, "alice")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeArtifactStore()
			bus := &captureBus{}
			guard := newTestGuard(store, bus)
			id := store.add(tt.from)

			err := tt.call(guard, id)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			if got := store.state(id); got != tt.from {
				t.Errorf("state changed to %s on illegal transition", got)
			}
			if bus.count() != 0 {
				t.Errorf("illegal transition must not publish, got %d", bus.count())
			}
		})
	}
}

func TestGuard_DuplicateDispatchSuppressed(t *testing.T) {
	store := newFakeArtifactStore()
	bus := &captureBus{}
	guard := newTestGuard(store, bus)
	id := store.add(models.ApprovalPending)

	if err := guard.Approve(context.Background(), id, "alice"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// A retried publish for the same artifact must not emit twice even if
	// the terminal-state check were bypassed.
	if err := guard.publishTrigger(context.Background(), id, "alice"); err != nil {
		t.Fatalf("publishTrigger failed: %v", err)
	}

	if bus.count() != 1 {
		t.Errorf("expected exactly 1 trigger after retry, got %d", bus.count())
	}
}

func TestGuard_LostTriggerCanBeRedispatched(t *testing.T) {
	store := newFakeArtifactStore()
	bus := &captureBus{failures: 1}
	guard := newTestGuard(store, bus)
	id := store.add(models.ApprovalPending)

	// The approval lands but the trigger publish fails transiently
	if err := guard.Approve(context.Background(), id, "alice"); err == nil {
		t.Fatal("expected Approve to surface the publish failure")
	}
	if got := store.state(id); got != models.ApprovalApproved {
		t.Fatalf("state = %s, want APPROVED despite failed publish", got)
	}
	if bus.count() != 0 {
		t.Fatalf("expected no trigger after failed publish, got %d", bus.count())
	}

	// A retried approve hits the terminal state; the recovery path is dispatch
	if err := guard.Approve(context.Background(), id, "alice"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("retried approve: expected ErrIllegalTransition, got %v", err)
	}

	if err := guard.Redispatch(context.Background(), id); err != nil {
		t.Fatalf("Redispatch failed: %v", err)
	}
	if bus.count() != 1 {
		t.Fatalf("expected exactly 1 trigger after redispatch, got %d", bus.count())
	}

	var event models.PromotionRequested
	if err := json.Unmarshal(bus.published[0].value, &event); err != nil {
		t.Fatalf("unmarshal trigger: %v", err)
	}
	if event.ArtifactID != id || event.ApprovedBy != "alice" {
		t.Errorf("unexpected redispatched trigger: %+v", event)
	}
}

func TestGuard_RedispatchAfterDeliveredTriggerIsNoOp(t *testing.T) {
	store := newFakeArtifactStore()
	bus := &captureBus{}
	guard := newTestGuard(store, bus)
	id := store.add(models.ApprovalPending)

	if err := guard.Approve(context.Background(), id, "alice"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := guard.Redispatch(context.Background(), id); err != nil {
		t.Fatalf("Redispatch failed: %v", err)
	}

	if bus.count() != 1 {
		t.Errorf("expected exactly 1 trigger after redispatch of a delivered trigger, got %d", bus.count())
	}
}

func TestGuard_RedispatchRequiresApprovedArtifact(t *testing.T) {
	for _, state := range []models.ApprovalState{models.ApprovalPending, models.ApprovalRejected} {
		store := newFakeArtifactStore()
		bus := &captureBus{}
		guard := newTestGuard(store, bus)
		id := store.add(state)

		if err := guard.Redispatch(context.Background(), id); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("redispatch of %s artifact: expected ErrIllegalTransition, got %v", state, err)
		}
		if bus.count() != 0 {
			t.Errorf("redispatch of %s artifact must not publish, got %d", state, bus.count())
		}
	}
}
