package stages

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/evaluation"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/gate"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/logger"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/google/uuid"
)

type fakeResults struct {
	created []*models.EvaluationResult
}

func (f *fakeResults) Create(_ context.Context, result *models.EvaluationResult) error {
	f.created = append(f.created, result)
	return nil
}

type fakeArtifactStore struct {
	created []*models.ArtifactRecord
}

func (f *fakeArtifactStore) Create(_ context.Context, artifact *models.ArtifactRecord) error {
	f.created = append(f.created, artifact)
	return nil
}

type cannedInvoker map[string]string

func (c cannedInvoker) Invoke(_ context.Context, _, prompt string) (string, error) {
	resp, ok := c[prompt]
	if !ok {
		return "", errors.New("no canned response")
	}
	return resp, nil
}

func gateCases() []evaluation.Case {
	return []evaluation.Case{
		{Name: "greeting", Prompt: "hello", ExpectedKeywords: []string{"hi", "help"}},
		{Name: "lookup", Prompt: "where is my order", ExpectedKeywords: []string{"order"}},
	}
}

func preparedContext() *pipeline.Context {
	rc := pipeline.NewContext(uuid.New(), "support", nil)
	rc.RecordOutput(StagePrepareAgent, map[string]interface{}{
		"agent_id":      "agent-1",
		"agent_version": "agent-1.3",
	})
	return rc
}

func TestEvaluate_PassingSuitePersistsAndContinues(t *testing.T) {
	invoker := cannedInvoker{
		"hello":             "Hi there, how can I help?",
		"where is my order": "Your order is on the way",
	}
	results := &fakeResults{}
	stage := Evaluate(
		evaluation.NewRunner(invoker, logger.New("error", "text")),
		gateCases(),
		pipeline.EvaluationDef{Threshold: 0.8},
		gate.NewConditionEvaluator(),
		results,
	)

	out, err := stage.Execute(context.Background(), preparedContext())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(results.created) != 1 {
		t.Fatalf("expected 1 persisted result, got %d", len(results.created))
	}
	if results.created[0].Verdict != models.VerdictPass {
		t.Errorf("verdict = %s, want PASS", results.created[0].Verdict)
	}
	if out["verdict"] != "PASS" {
		t.Errorf("output verdict = %v", out["verdict"])
	}
}

func TestEvaluate_BelowThresholdHaltsButPersists(t *testing.T) {
	// Only one of two cases passes; 0.5 < 0.8
	invoker := cannedInvoker{
		"hello":             "Hi there, how can I help?",
		"where is my order": "I don't understand",
	}
	results := &fakeResults{}
	stage := Evaluate(
		evaluation.NewRunner(invoker, logger.New("error", "text")),
		gateCases(),
		pipeline.EvaluationDef{Threshold: 0.8},
		gate.NewConditionEvaluator(),
		results,
	)

	_, err := stage.Execute(context.Background(), preparedContext())
	if err == nil {
		t.Fatal("expected failure below threshold")
	}

	var failure *pipeline.Failure
	if !errors.As(err, &failure) || failure.Kind != pipeline.KindBelowThreshold {
		t.Errorf("expected below-threshold failure, got %v", err)
	}

	// The result is recorded even though the run halts
	if len(results.created) != 1 {
		t.Fatalf("expected 1 persisted result, got %d", len(results.created))
	}
	if results.created[0].Verdict != models.VerdictFail {
		t.Errorf("verdict = %s, want FAIL", results.created[0].Verdict)
	}
}

func TestEvaluate_ConditionCanTightenGate(t *testing.T) {
	invoker := cannedInvoker{
		"hello":             "Hi there, how can I help?",
		"where is my order": "Your order is on the way",
	}
	results := &fakeResults{}
	stage := Evaluate(
		evaluation.NewRunner(invoker, logger.New("error", "text")),
		gateCases(),
		pipeline.EvaluationDef{
			Threshold: 0.8,
			// Demand more cases than the suite has
			Condition: "metrics.success_rate >= threshold && metrics.total_cases >= 10",
		},
		gate.NewConditionEvaluator(),
		results,
	)

	_, err := stage.Execute(context.Background(), preparedContext())
	var failure *pipeline.Failure
	if !errors.As(err, &failure) || failure.Kind != pipeline.KindBelowThreshold {
		t.Errorf("expected below-threshold failure from tightened condition, got %v", err)
	}
	if results.created[0].Verdict != models.VerdictFail {
		t.Errorf("verdict = %s, want FAIL after condition override", results.created[0].Verdict)
	}
}

func TestEvaluate_RequiresPreparedAgent(t *testing.T) {
	stage := Evaluate(
		evaluation.NewRunner(cannedInvoker{}, logger.New("error", "text")),
		gateCases(),
		pipeline.EvaluationDef{Threshold: 0.8},
		gate.NewConditionEvaluator(),
		&fakeResults{},
	)

	rc := pipeline.NewContext(uuid.New(), "support", nil)
	if _, err := stage.Execute(context.Background(), rc); err == nil {
		t.Error("expected failure when prepare_agent output is missing")
	}
}

func TestRegister_CreatesPendingArtifact(t *testing.T) {
	artifacts := &fakeArtifactStore{}
	rc := preparedContext()
	rc.RecordOutput(StageEvaluate, map[string]interface{}{"success_rate": 1.0})

	out, err := Register(artifacts).Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(artifacts.created) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts.created))
	}
	rec := artifacts.created[0]
	if rec.ApprovalState != models.ApprovalPending {
		t.Errorf("approval state = %s, want PENDING_MANUAL_APPROVAL", rec.ApprovalState)
	}
	if rec.AgentVersion != "agent-1.3" {
		t.Errorf("agent version = %s", rec.AgentVersion)
	}
	if rec.Metadata["evaluation"] == nil {
		t.Error("evaluation metrics missing from artifact metadata")
	}
	if out["artifact_id"] == "" {
		t.Error("register produced no artifact id")
	}
}

func TestRegister_FailsCreateSurfacesError(t *testing.T) {
	stage := Register(failingArtifactStore{})
	if _, err := stage.Execute(context.Background(), preparedContext()); err == nil {
		t.Error("expected error when artifact create fails")
	}
}

type failingArtifactStore struct{}

func (failingArtifactStore) Create(context.Context, *models.ArtifactRecord) error {
	return fmt.Errorf("insert failed")
}
