package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Stage is one named step of a run. Execute must be idempotent: re-running
// with the same context and an already-existing target resource is a no-op
// success. Handlers may parallelize internally but must join before
// returning; the sequencer treats a stage as atomic.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *Context) (map[string]interface{}, error)
}

// StageFunc adapts a function to the Stage interface
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, rc *Context) (map[string]interface{}, error)
}

func (s StageFunc) Name() string {
	return s.StageName
}

func (s StageFunc) Execute(ctx context.Context, rc *Context) (map[string]interface{}, error) {
	return s.Fn(ctx, rc)
}

// NewStage adapts a function to a named Stage
func NewStage(name string, fn func(ctx context.Context, rc *Context) (map[string]interface{}, error)) Stage {
	return StageFunc{StageName: name, Fn: fn}
}

// Context carries run-scoped state through a stage sequence. Outputs of
// completed stages are visible to later stages, keyed by stage name.
type Context struct {
	RunID     uuid.UUID
	AgentName string
	Params    map[string]string

	mu      sync.RWMutex
	outputs map[string]map[string]interface{}
}

// NewContext creates a run context
func NewContext(runID uuid.UUID, agentName string, params map[string]string) *Context {
	if params == nil {
		params = make(map[string]string)
	}
	return &Context{
		RunID:     runID,
		AgentName: agentName,
		Params:    params,
		outputs:   make(map[string]map[string]interface{}),
	}
}

// Output returns the recorded output of a completed stage
func (c *Context) Output(stage string) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[stage]
	return out, ok
}

// RecordOutput records a stage's output. The sequencer calls this only after
// the output has been durably recorded on the run.
func (c *Context) RecordOutput(stage string, out map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stage] = out
}
