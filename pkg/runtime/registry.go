package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sequorlabs/sequor/pkg/domain"
)

// Operation is the uniform invocation contract every cataloged operation
// compiles down to. Implementations receive the adapted input map and
// return named outputs.
type Operation interface {
	Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Invoke implements Operation.
func (f OperationFunc) Invoke(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// registration pairs a catalog descriptor with its compiled implementation.
type registration struct {
	descriptor domain.OperationDescriptor
	impl       Operation
}

// Registry holds the executable catalog: every vetted operation keyed by
// its content-derived identity, with a secondary index by name. Operations
// are registered ahead of execution; nothing is loaded at call time.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]registration
	byName map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]registration),
		byName: make(map[string]string),
	}
}

// Register adds an operation under its descriptor's identity. Registering
// the same identity twice replaces the previous implementation.
func (r *Registry) Register(descriptor domain.OperationDescriptor, impl Operation) error {
	if descriptor.Identity == "" {
		return fmt.Errorf("%w: descriptor for %q has no identity", domain.ErrConfigInvalid, descriptor.Name)
	}
	if impl == nil {
		return fmt.Errorf("%w: nil implementation for %q", domain.ErrConfigInvalid, descriptor.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[descriptor.Identity] = registration{descriptor: descriptor, impl: impl}
	r.byName[descriptor.Name] = descriptor.Identity
	return nil
}

// Lookup resolves an operation by identity, falling back to name so graph
// nodes composed against either form resolve.
func (r *Registry) Lookup(idOrName string) (domain.OperationDescriptor, Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.byID[idOrName]; ok {
		return reg.descriptor, reg.impl, nil
	}
	if id, ok := r.byName[idOrName]; ok {
		reg := r.byID[id]
		return reg.descriptor, reg.impl, nil
	}
	return domain.OperationDescriptor{}, nil, fmt.Errorf("%w: %s", domain.ErrOperationNotFound, idOrName)
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []domain.OperationDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OperationDescriptor, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, reg.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
