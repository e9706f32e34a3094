// Package registry provides the typed factory for controller construction.
//
// The Registry stores mappings between the controller type names used in
// topology documents (e.g., "delta") and the compiled Go factories that
// build the matching stage implementations. It is populated once at
// application startup by the built-in modules and then handed to the
// orchestrator, which resolves every topology entry through it. Unknown
// type names are therefore caught the moment a controller is created, not
// in the middle of a run.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vk/stagegrid/internal/stage"
)

// Factory builds a stage implementation for one controller instance. The
// configuration has already passed stage.Config.Validate.
type Factory func(cfg stage.Config) (stage.Stage, error)

// Module is the interface that all built-in modules implement to register
// their controller types.
type Module interface {
	Register(r *Registry)
}

// Registry holds the controller type factories for a single application
// instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterType registers a factory under a controller type name. Duplicate
// registration is a programmer error and panics, matching the fail-fast
// behaviour at startup.
func (r *Registry) RegisterType(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("controller type '%s' already registered", name))
	}
	r.factories[name] = factory
}

// Create instantiates a stage for the given configuration.
func (r *Registry) Create(cfg stage.Config) (stage.Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown controller type %q", stage.ErrConfig, cfg.Type)
	}
	return factory(cfg)
}

// Types returns the sorted list of registered controller type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
