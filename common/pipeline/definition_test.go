package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleDefinition = `
name: support-agent
agent: support

stages:
  - name: setup
    timeout: 5m
  - name: create_agent
  - name: evaluate
    timeout: 30m

evaluation:
  threshold: 0.8
  condition: "metrics.success_rate >= threshold"

toggles:
  create_knowledge_base: false

params:
  model: test-model
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestLoadDefinition(t *testing.T) {
	def, err := LoadDefinition(writeDefinition(t, sampleDefinition))
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}

	if def.Name != "support-agent" || def.AgentName != "support" {
		t.Errorf("unexpected names: %s / %s", def.Name, def.AgentName)
	}

	names := def.StageNames()
	want := []string{"setup", "create_agent", "evaluate"}
	if len(names) != len(want) {
		t.Fatalf("stage names %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("stage names %v, want %v", names, want)
		}
	}

	if def.Evaluation.Threshold != 0.8 {
		t.Errorf("threshold = %f", def.Evaluation.Threshold)
	}
	if def.Params["model"] != "test-model" {
		t.Errorf("params = %v", def.Params)
	}
}

func TestStageTimeout(t *testing.T) {
	def, err := LoadDefinition(writeDefinition(t, sampleDefinition))
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}

	if got := def.StageTimeout("setup", time.Minute); got != 5*time.Minute {
		t.Errorf("setup timeout = %v, want 5m", got)
	}
	// A stage without its own timeout uses the fallback
	if got := def.StageTimeout("create_agent", time.Minute); got != time.Minute {
		t.Errorf("create_agent timeout = %v, want fallback 1m", got)
	}
}

func TestToggleEnabled(t *testing.T) {
	def, err := LoadDefinition(writeDefinition(t, sampleDefinition))
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}

	if def.ToggleEnabled("create_knowledge_base") {
		t.Error("expected toggle off")
	}
	// Unset toggles default to enabled
	if !def.ToggleEnabled("deploy_action_groups") {
		t.Error("expected unset toggle on")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "agent: a\nstages:\n  - name: s\n"},
		{"no stages", "name: p\nagent: a\n"},
		{"unnamed stage", "name: p\nstages:\n  - timeout: 5m\n"},
		{"duplicate stage", "name: p\nstages:\n  - name: s\n  - name: s\n"},
		{"threshold out of range", "name: p\nstages:\n  - name: s\nevaluation:\n  threshold: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadDefinition(writeDefinition(t, tt.yaml)); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoadDefinition_BadDuration(t *testing.T) {
	bad := "name: p\nstages:\n  - name: s\n    timeout: not-a-duration\n"
	if _, err := LoadDefinition(writeDefinition(t, bad)); err == nil {
		t.Error("expected parse error for bad duration")
	}
}
