package codec

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps engine names to engines. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds e under e.Name(). Subsequent calls with the same name
// overwrite the previous registration.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Lookup returns the engine registered under name.
// Returns [ErrCodecNotFound] if nothing has been registered for that name.
func (r *Registry) Lookup(name string) (Engine, error) {
	r.mu.RLock()
	e, ok := r.engines[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCodecNotFound, name)
	}
	return e, nil
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
