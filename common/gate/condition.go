package gate

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// DefaultCondition is the gate check used when a pipeline definition does
// not configure its own expression.
const DefaultCondition = "metrics.success_rate >= threshold"

// ConditionEvaluator evaluates gate pass conditions using CEL, so a pipeline
// can gate on more than the plain ratio (e.g. also require a minimum case
// count). Compiled programs are cached per expression.
type ConditionEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates a condition evaluator with caching
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Evaluate runs the expression against the evaluation metrics and threshold.
// An empty expression falls back to DefaultCondition.
func (e *ConditionEvaluator) Evaluate(expr string, metrics map[string]interface{}, threshold float64) (bool, error) {
	if expr == "" {
		expr = DefaultCondition
	}

	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"metrics":   metrics,
		"threshold": threshold,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *ConditionEvaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.DynType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *ConditionEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
