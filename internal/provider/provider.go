// Package provider defines the capability interface the convergence engine
// needs from a cloud provider, and a registry that dispatches provider
// implementations by name.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/stratus-io/stratus/internal/ir"
)

// Provider is the per-kind create/read/update/delete capability the engine
// drives. One implementation covers many resource kinds, dispatching on the
// kind argument, which avoids a deep type hierarchy.
//
// Implementations must be idempotent under retry: a retried Create after an
// ambiguous timeout must not produce a duplicate resource. Providers achieve
// this by tagging created resources with the deterministic idempotency token
// derived from the logical name and adopting an existing match on retry.
type Provider interface {
	// Create provisions a new resource and returns its provider-assigned
	// identity plus any produced attributes (IDs, ARNs, DNS names).
	Create(ctx context.Context, kind ir.Kind, name string, attrs map[string]any) (identity string, produced map[string]any, err error)

	// Read fetches the current remote attributes for a stored identity.
	// found is false when the resource no longer exists remotely.
	Read(ctx context.Context, kind ir.Kind, identity string) (attrs map[string]any, found bool, err error)

	// Update mutates diffable fields in place and returns refreshed
	// produced attributes.
	Update(ctx context.Context, kind ir.Kind, identity string, attrs map[string]any) (produced map[string]any, err error)

	// Delete tears the resource down. Deleting an already-absent resource
	// is not an error.
	Delete(ctx context.Context, kind ir.Kind, identity string) error

	// ImmutableFields names the attributes whose change forces a
	// destroy-then-create replacement for the given kind. The exact lists
	// are provider-specific and deliberately not hard-coded in the engine.
	ImmutableFields(kind ir.Kind) []string
}

// Factory constructs a named provider on first use.
type Factory func() (Provider, error)

// Registry manages provider instances keyed by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory installs a lazily-constructed provider.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Register installs an already-constructed provider instance. Tests use
// this to inject failure-scripted providers.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns the provider for name, constructing it from its factory on
// first use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	if p, ok := r.providers[name]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	p, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}
