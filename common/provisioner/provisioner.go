package provisioner

import (
	"context"
)

// Spec is the desired state of one provisioned resource. Specs are compared
// structurally, so callers can re-submit the same spec and get a no-op.
type Spec struct {
	// Kind of resource (agent, knowledge_base, action_group, alias, ...)
	Kind string `json:"kind"`
	// Name unique within kind
	Name string `json:"name"`
	// Arbitrary desired-state document
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Handle identifies a provisioned resource and its current revision
type Handle struct {
	// Stable resource identifier, unchanged across updates
	ID string `json:"id"`
	// Kind and name echoed from the spec
	Kind string `json:"kind"`
	Name string `json:"name"`
	// Revision increments on every effective update
	Revision int64 `json:"revision"`
	// Created is true when the call created the resource rather than
	// finding an existing one
	Created bool `json:"created"`
	// Changed is true when the call mutated the resource (create or update)
	Changed bool `json:"changed"`
}

// Provisioner creates or converges external resources toward a desired spec.
// CreateOrUpdate is idempotent: submitting an identical spec twice returns
// the same handle without a second side effect.
type Provisioner interface {
	CreateOrUpdate(ctx context.Context, spec Spec) (*Handle, error)
	// Get returns the handle for an existing resource, or found=false
	Get(ctx context.Context, kind, name string) (*Handle, bool, error)
	// Delete removes a resource; deleting a missing resource is a no-op
	Delete(ctx context.Context, kind, name string) error
}
