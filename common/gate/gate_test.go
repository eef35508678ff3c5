package gate

import (
	"testing"

	"github.com/ModelOps-Data-and-Analytics/agentops/common/models"
	"github.com/google/uuid"
)

func TestEvaluate_PassAboveThreshold(t *testing.T) {
	result, err := Evaluate(uuid.New(), 9, 10, 0.8)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Verdict != models.VerdictPass {
		t.Errorf("expected PASS, got %s", result.Verdict)
	}
	if result.SuccessRate != 0.9 {
		t.Errorf("expected success rate 0.9, got %f", result.SuccessRate)
	}
}

func TestEvaluate_ExactThresholdPasses(t *testing.T) {
	// The boundary is inclusive: 8/10 at threshold 0.8 is a PASS
	result, err := Evaluate(uuid.New(), 8, 10, 0.8)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Verdict != models.VerdictPass {
		t.Errorf("expected PASS at exact threshold, got %s", result.Verdict)
	}
}

func TestEvaluate_FailBelowThreshold(t *testing.T) {
	result, err := Evaluate(uuid.New(), 7, 10, 0.8)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Verdict != models.VerdictFail {
		t.Errorf("expected FAIL, got %s", result.Verdict)
	}
}

func TestEvaluate_ZeroTotalIsError(t *testing.T) {
	if _, err := Evaluate(uuid.New(), 0, 0, 0.8); err == nil {
		t.Error("expected error for zero test cases, got nil")
	}
}

func TestEvaluate_InvalidInputs(t *testing.T) {
	tests := []struct {
		name      string
		passed    int
		total     int
		threshold float64
	}{
		{"negative passed", -1, 10, 0.8},
		{"passed exceeds total", 11, 10, 0.8},
		{"negative total", 5, -1, 0.8},
		{"threshold above one", 5, 10, 1.5},
		{"negative threshold", 5, 10, -0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Evaluate(uuid.New(), tt.passed, tt.total, tt.threshold); err == nil {
				t.Errorf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestEvaluate_ThresholdZeroAlwaysPasses(t *testing.T) {
	result, err := Evaluate(uuid.New(), 0, 10, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Verdict != models.VerdictPass {
		t.Errorf("expected PASS at threshold 0, got %s", result.Verdict)
	}
}
