package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/eventbus"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

// ErrIllegalTransition is returned when a requested approval state change is
// not legal from the record's current state. The record is left unchanged.
var ErrIllegalTransition = errors.New("illegal approval state transition")

// ArtifactStore is the persistence the guard needs
type ArtifactStore interface {
	GetArtifact(ctx context.Context, artifactID uuid.UUID) (*models.ArtifactRecord, error)
	// TransitionApproval atomically moves the artifact from
	// PENDING_MANUAL_APPROVAL to state. Returns false when the record was
	// not pending (lost race or already terminal), leaving it unchanged.
	TransitionApproval(ctx context.Context, artifactID uuid.UUID, state models.ApprovalState, approver string, at time.Time) (bool, error)
}

// Deduper guards at-most-once emission of the promotion trigger
type Deduper interface {
	// Once returns true the first time key is claimed within ttl
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives the claim back so a later attempt can retry
	Release(ctx context.Context, key string) error
}

// Guard enforces the legal approval transitions on artifact records:
// PENDING_MANUAL_APPROVAL -> APPROVED | REJECTED, both terminal. Approval
// emits exactly one promotion trigger per artifact.
type Guard struct {
	store       ArtifactStore
	bus         eventbus.Bus
	dedup       Deduper
	releaseName string
	log         *logger.Logger
}

// NewGuard creates an approval guard
func NewGuard(store ArtifactStore, bus eventbus.Bus, dedup Deduper, releaseName string, log *logger.Logger) *Guard {
	return &Guard{
		store:       store,
		bus:         bus,
		dedup:       dedup,
		releaseName: releaseName,
		log:         log,
	}
}

// Approve transitions the artifact to APPROVED and publishes the promotion
// trigger. The publish happens after the state change is durable, so a
// second approve observes the terminal state and fails instead of emitting
// a duplicate trigger.
func (g *Guard) Approve(ctx context.Context, artifactID uuid.UUID, approver string) error {
	if err := g.transition(ctx, artifactID, models.ApprovalApproved, approver); err != nil {
		return err
	}

	return g.publishTrigger(ctx, artifactID, approver)
}

// Reject transitions the artifact to REJECTED
func (g *Guard) Reject(ctx context.Context, artifactID uuid.UUID, approver string) error {
	return g.transition(ctx, artifactID, models.ApprovalRejected, approver)
}

// Redispatch re-emits the promotion trigger for an artifact that is already
// APPROVED. The dedup key keeps this a no-op when the original dispatch went
// out; it only publishes when the trigger was lost (e.g. the bus was down
// between the approval and the publish).
func (g *Guard) Redispatch(ctx context.Context, artifactID uuid.UUID) error {
	record, err := g.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	if record.ApprovalState != models.ApprovalApproved {
		return fmt.Errorf("%w: artifact %s is %s, only APPROVED artifacts can be dispatched",
			ErrIllegalTransition, artifactID, record.ApprovalState)
	}

	approver := ""
	if record.ApprovedBy != nil {
		approver = *record.ApprovedBy
	}
	return g.publishTrigger(ctx, artifactID, approver)
}

func (g *Guard) transition(ctx context.Context, artifactID uuid.UUID, state models.ApprovalState, approver string) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal approval state", ErrIllegalTransition, state)
	}

	record, err := g.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", artifactID, err)
	}

	if record.ApprovalState != models.ApprovalPending {
		return fmt.Errorf("%w: artifact %s is %s", ErrIllegalTransition, artifactID, record.ApprovalState)
	}

	moved, err := g.store.TransitionApproval(ctx, artifactID, state, approver, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition artifact %s: %w", artifactID, err)
	}
	if !moved {
		// Lost the race against a concurrent approver.
		return fmt.Errorf("%w: artifact %s left pending concurrently", ErrIllegalTransition, artifactID)
	}

	g.log.Info("approval state changed",
		"artifact_id", artifactID,
		"state", string(state),
		"approver", approver,
	)

	return nil
}

func (g *Guard) publishTrigger(ctx context.Context, artifactID uuid.UUID, approver string) error {
	// Idempotency key on top of the terminal-state check: a redelivered
	// approve call after the transition succeeded must not emit twice.
	key := fmt.Sprintf("promotion:dispatched:%s", artifactID)
	first, err := g.dedup.Once(ctx, key, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("claim promotion dispatch for %s: %w", artifactID, err)
	}
	if !first {
		g.log.Warn("promotion trigger already dispatched, skipping", "artifact_id", artifactID)
		return nil
	}

	event := models.PromotionRequested{
		ArtifactID:  artifactID,
		ReleaseName: g.releaseName,
		ApprovedBy:  approver,
		RequestedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal promotion trigger: %w", err)
	}

	if err := g.bus.Publish(ctx, eventbus.TopicPromotionRequested, artifactID.String(), payload); err != nil {
		// Give the claim back: the artifact is already APPROVED, so the only
		// way the trigger ever goes out is a retried dispatch reclaiming it.
		if relErr := g.dedup.Release(ctx, key); relErr != nil {
			g.log.Error("failed to release dispatch claim", "artifact_id", artifactID, "error", relErr)
		}
		return fmt.Errorf("publish promotion trigger: %w", err)
	}

	g.log.Info("promotion trigger published", "artifact_id", artifactID, "release", g.releaseName)
	return nil
}
