// Package registry provides the capability registry for toolforge.
// It maps capability ids to metadata (owning integration, allowed
// operations) used by the spec compiler, the advisory validator, and the
// action runtime.
package registry

import (
	"context"
	"sync"
)

// Capability describes a registered integration capability.
type Capability struct {
	ID                string   `json:"id"`
	IntegrationID     string   `json:"integration_id"`
	AllowedOperations []string `json:"allowed_operations"`
	Description       string   `json:"description,omitempty"`
}

// Tracer receives invocation breadcrumbs from executors.
// Implementations must be safe for concurrent use.
type Tracer interface {
	Trace(event string, fields map[string]any)
}

// Executor invokes a capability against the live external system.
type Executor interface {
	Execute(ctx context.Context, params map[string]any, execCtx map[string]any, tracer Tracer) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, params map[string]any, execCtx map[string]any, tracer Tracer) (any, error)

// Execute calls the wrapped function.
func (f ExecutorFunc) Execute(ctx context.Context, params map[string]any, execCtx map[string]any, tracer Tracer) (any, error) {
	return f(ctx, params, execCtx, tracer)
}

// Provider is the read side consumed by the compiler and runtime.
type Provider interface {
	// GetCapability returns a capability definition by id.
	GetCapability(id string) (Capability, bool)

	// ExecutorFor returns the executor bound to a capability id.
	ExecutorFor(id string) (Executor, bool)
}

// Registry holds all known capabilities and their executors.
type Registry struct {
	mu        sync.RWMutex
	caps      map[string]Capability
	executors map[string]Executor
	order     []string // preserves registration order
}

// New creates an empty capability registry.
func New() *Registry {
	return &Registry{
		caps:      make(map[string]Capability),
		executors: make(map[string]Executor),
	}
}

// Register adds a capability and its executor. A capability registered
// twice is overwritten; registration order is preserved for listing.
func (r *Registry) Register(c Capability, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.ID]; !exists {
		r.order = append(r.order, c.ID)
	}
	r.caps[c.ID] = c
	r.executors[c.ID] = exec
}

// GetCapability returns a capability definition by id.
func (r *Registry) GetCapability(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	return c, ok
}

// ExecutorFor returns the executor bound to a capability id.
func (r *Registry) ExecutorFor(id string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[id]
	return e, ok
}

// Has reports whether a capability id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[id]
	return ok
}

// All returns all registered capabilities in registration order.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.caps[id])
	}
	return result
}

var _ Provider = (*Registry)(nil)
