// Package registry maps resource type names to the lifecycle controllers
// responsible for them. A registry is populated once at process start and
// treated as read-only afterwards; there is no hot-reloading.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
)

// Registry is the dispatch point from a resource type name to its
// controller. Construct it in main and pass it down explicitly; nothing in
// this package holds ambient global state.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]lifecycle.Controller
}

func New() *Registry {
	return &Registry{
		controllers: make(map[string]lifecycle.Controller),
	}
}

// Register binds a type name to a controller. Registration happens during
// startup only; duplicate registration is a programming error and fails.
func (r *Registry) Register(typeName string, ctrl lifecycle.Controller) error {
	if typeName == "" {
		return fmt.Errorf("empty resource type name")
	}
	if ctrl == nil {
		return fmt.Errorf("nil controller for type %s", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controllers[typeName]; exists {
		return fmt.Errorf("type %s already registered", typeName)
	}
	r.controllers[typeName] = ctrl
	return nil
}

// Get returns the controller for a type name. A miss is terminal: it means
// the caller asked for a type nothing registered, never a transient state.
func (r *Registry) Get(typeName string) (lifecycle.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctrl, ok := r.controllers[typeName]
	if !ok {
		return nil, lifecycle.UnknownResourceType(typeName)
	}
	return ctrl, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
