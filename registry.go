package bgsync

import (
	"fmt"
	"sync"
)

// Registry tracks queue names in use. A name can be registered once until Reset.
type Registry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// DefaultRegistry is used by NewQueue unless WithRegistry is given.
var DefaultRegistry = NewRegistry()

// Register claims name. It returns ErrDuplicateQueue if name is taken.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateQueue, name)
	}
	r.names[name] = struct{}{}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

// Reset forgets every registered name. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.names = make(map[string]struct{})
	r.mu.Unlock()
}
