package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
)

type memoryResource struct {
	handle   Handle
	specJSON []byte
}

// MemoryProvisioner is an in-process Provisioner used by the local backend
// and by tests. Idempotence is decided by structural spec comparison: a
// re-submitted identical spec is a no-op, a drifted spec bumps the revision.
type MemoryProvisioner struct {
	mu        sync.Mutex
	resources map[string]*memoryResource
}

// NewMemoryProvisioner creates an empty in-memory provisioner
func NewMemoryProvisioner() *MemoryProvisioner {
	return &MemoryProvisioner{
		resources: make(map[string]*memoryResource),
	}
}

func resourceKey(kind, name string) string {
	return kind + "/" + name
}

// CreateOrUpdate converges the named resource toward spec
func (p *MemoryProvisioner) CreateOrUpdate(_ context.Context, spec Spec) (*Handle, error) {
	if spec.Kind == "" || spec.Name == "" {
		return nil, fmt.Errorf("spec requires kind and name")
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := resourceKey(spec.Kind, spec.Name)
	existing, ok := p.resources[key]
	if !ok {
		res := &memoryResource{
			handle: Handle{
				ID:       uuid.NewString(),
				Kind:     spec.Kind,
				Name:     spec.Name,
				Revision: 1,
				Created:  true,
				Changed:  true,
			},
			specJSON: specJSON,
		}
		p.resources[key] = res
		h := res.handle
		return &h, nil
	}

	if jsonpatch.Equal(existing.specJSON, specJSON) {
		h := existing.handle
		h.Created = false
		h.Changed = false
		return &h, nil
	}

	// Drifted spec: record what changed and bump the revision
	if _, err := jsonpatch.CreateMergePatch(existing.specJSON, specJSON); err != nil {
		return nil, fmt.Errorf("diff spec for %s: %w", key, err)
	}

	existing.specJSON = specJSON
	existing.handle.Revision++
	existing.handle.Created = false
	existing.handle.Changed = true

	h := existing.handle
	return &h, nil
}

// Get returns the handle for an existing resource
func (p *MemoryProvisioner) Get(_ context.Context, kind, name string) (*Handle, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.resources[resourceKey(kind, name)]
	if !ok {
		return nil, false, nil
	}
	h := res.handle
	h.Created = false
	h.Changed = false
	return &h, true, nil
}

// Delete removes a resource if present
func (p *MemoryProvisioner) Delete(_ context.Context, kind, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resources, resourceKey(kind, name))
	return nil
}
