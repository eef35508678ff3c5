package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/evaluation"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/gate"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/ModelOps-Data-and-Analytics/agentops/common/pipeline"
	"github.com/google/uuid"
)

// ResultStore persists evaluation results
type ResultStore interface {
	Create(ctx context.Context, result *models.EvaluationResult) error
}

// ArtifactStore persists artifact records
type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.ArtifactRecord) error
}

// Evaluate scores the prepared agent against the test suite and applies the
// threshold gate. The result is persisted whatever the verdict; a FAIL halts
// the run with the below-threshold failure kind.
func Evaluate(runner *evaluation.Runner, cases []evaluation.Case, evalDef pipeline.EvaluationDef, conditions *gate.ConditionEvaluator, results ResultStore) pipeline.Stage {
	return pipeline.NewStage(StageEvaluate, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		agentID := outputString(rc, StagePrepareAgent, "agent_id")
		if agentID == "" {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindInternal, fmt.Errorf("agent id missing from %s output", StagePrepareAgent))
		}

		passed, details, err := runner.Score(ctx, agentID, cases)
		if err != nil {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindInternal, err)
		}

		result, err := gate.Evaluate(rc.RunID, passed, len(cases), evalDef.Threshold)
		if err != nil {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindInternal, err)
		}
		result.Details = details

		// The configured condition can tighten the gate beyond the ratio
		// check; both must hold for a PASS.
		pass, err := conditions.Evaluate(evalDef.Condition, map[string]interface{}{
			"success_rate": result.SuccessRate,
			"total_cases":  result.TotalCases,
			"passed_cases": result.PassedCases,
		}, evalDef.Threshold)
		if err != nil {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindInternal, err)
		}
		if !pass && result.Verdict == models.VerdictPass {
			result.Verdict = models.VerdictFail
		}

		if err := results.Create(ctx, result); err != nil {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindInternal, err)
		}

		if result.Verdict != models.VerdictPass {
			return nil, pipeline.NewFailure(StageEvaluate, pipeline.KindBelowThreshold,
				fmt.Errorf("success rate %.2f below threshold %.2f", result.SuccessRate, result.Threshold))
		}

		return map[string]interface{}{
			"success_rate": result.SuccessRate,
			"total_cases":  result.TotalCases,
			"passed_cases": result.PassedCases,
			"verdict":      string(result.Verdict),
		}, nil
	})
}

// Register records the passing agent version as an artifact awaiting manual
// approval. Promotion never happens here; only an approval can trigger it.
func Register(artifacts ArtifactStore) pipeline.Stage {
	return pipeline.NewStage(StageRegister, func(ctx context.Context, rc *pipeline.Context) (map[string]interface{}, error) {
		agentVersion := outputString(rc, StagePrepareAgent, "agent_version")
		if agentVersion == "" {
			return nil, pipeline.NewFailure(StageRegister, pipeline.KindInternal, fmt.Errorf("agent version missing from %s output", StagePrepareAgent))
		}

		metadata := map[string]interface{}{}
		if out, ok := rc.Output(StageEvaluate); ok {
			metadata["evaluation"] = out
		}

		artifact := &models.ArtifactRecord{
			ArtifactID:    uuid.New(),
			RunID:         rc.RunID,
			AgentName:     rc.AgentName,
			AgentVersion:  agentVersion,
			ApprovalState: models.ApprovalPending,
			Metadata:      metadata,
			CreatedAt:     time.Now().UTC(),
		}

		if err := artifacts.Create(ctx, artifact); err != nil {
			return nil, pipeline.NewFailure(StageRegister, pipeline.KindInternal, err)
		}

		return map[string]interface{}{
			"artifact_id":    artifact.ArtifactID.String(),
			"approval_state": string(artifact.ApprovalState),
		}, nil
	})
}
