// Package runner holds the named runner factories that external surfaces use
// to submit work: a request carries a runner name plus JSON parameters, and
// the registry turns that pair into an executable task body.
package runner

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/taskforge/internal/engine"
)

// Factory builds a task body from request parameters. It validates the
// parameters up front so that a bad request fails at submission, not halfway
// through execution.
type Factory func(params json.RawMessage) (engine.Runner, error)

// Registry maps runner names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under the given name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("runner %q is not registered", name)
	}
	return f, nil
}

// List returns all registered runner names, sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
