package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is a declarative pipeline description loaded from YAML. It
// names the ordered stage sequence, per-stage timeouts and the evaluation
// gate settings.
type Definition struct {
	Name       string            `yaml:"name"`
	AgentName  string            `yaml:"agent"`
	Stages     []StageDef        `yaml:"stages"`
	Evaluation EvaluationDef     `yaml:"evaluation"`
	Toggles    map[string]bool   `yaml:"toggles,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
}

// StageDef declares one stage of the sequence
type StageDef struct {
	Name    string   `yaml:"name"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Duration parses YAML duration strings like "5m" or "90s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// EvaluationDef declares the threshold gate
type EvaluationDef struct {
	Threshold float64 `yaml:"threshold"`
	// Optional CEL pass condition; defaults to the ratio-vs-threshold check
	Condition string `yaml:"condition,omitempty"`
	CasesPath string `yaml:"cases,omitempty"`
}

// LoadDefinition reads and validates a pipeline definition from a YAML file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline definition: %w", err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks the definition for structural problems
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", d.Name)
	}

	seen := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		if s.Name == "" {
			return fmt.Errorf("pipeline %s has an unnamed stage", d.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("pipeline %s: duplicate stage %s", d.Name, s.Name)
		}
		seen[s.Name] = true
		if s.Timeout < 0 {
			return fmt.Errorf("pipeline %s: stage %s has negative timeout", d.Name, s.Name)
		}
	}

	if d.Evaluation.Threshold < 0 || d.Evaluation.Threshold > 1 {
		return fmt.Errorf("pipeline %s: evaluation threshold must be in [0,1], got %f", d.Name, d.Evaluation.Threshold)
	}

	return nil
}

// StageNames returns the ordered stage names
func (d *Definition) StageNames() []string {
	names := make([]string, 0, len(d.Stages))
	for _, s := range d.Stages {
		names = append(names, s.Name)
	}
	return names
}

// StageTimeout returns the configured timeout for a stage, or fallback when
// the definition does not set one.
func (d *Definition) StageTimeout(stage string, fallback time.Duration) time.Duration {
	for _, s := range d.Stages {
		if s.Name == stage && s.Timeout > 0 {
			return time.Duration(s.Timeout)
		}
	}
	return fallback
}

// ToggleEnabled reports a feature toggle, defaulting to enabled when unset
func (d *Definition) ToggleEnabled(name string) bool {
	if v, ok := d.Toggles[name]; ok {
		return v
	}
	return true
}
