// Package resource implements the process-wide type-indexed resource table
// described in spec.md §3 ("Resource Manager"): per-document singletons keyed
// by a type name, set up once during State.Create and read by plugins and
// runtime drivers thereafter. Grounded on core/pkg/registry/registry.go's
// mutex-guarded map-of-typed-entries shape.
package resource

import (
	"sync"

	"github.com/moduforge/moduforge-go/pkg/forgeerror"
)

// Manager is a thread-safe map from type name to an arbitrary resource value.
// Go has no const-generic "TypeId" the way the original runtime's host
// language does, so callers supply their own stable name (typically the
// result of calling Name() on a package-level constant) instead of relying on
// reflection-derived type identity.
type Manager struct {
	mu        sync.RWMutex
	resources map[string]interface{}
}

// NewManager returns an empty resource table.
func NewManager() *Manager {
	return &Manager{resources: make(map[string]interface{})}
}

// Set installs or replaces the resource registered under name.
func (m *Manager) Set(name string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[name] = value
}

// Get returns the resource registered under name, or false if absent.
func (m *Manager) Get(name string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.resources[name]
	return v, ok
}

// MustGet returns the resource registered under name, or a ResourceError if
// it was never set. Plugins that depend on a resource being present at init
// time should use this to fail fast with a tagged error.
func (m *Manager) MustGet(name string) (interface{}, error) {
	v, ok := m.Get(name)
	if !ok {
		return nil, forgeerror.TypeNotRegistered(name)
	}
	return v, nil
}

// Delete removes the resource registered under name, if any.
func (m *Manager) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, name)
}

// Clone returns a Manager with its own map sharing the same resource values
// (a shallow copy), used when a new State is derived from an old one and
// plugin state init may want to see the prior resource table without racing
// the original.
func (m *Manager) Clone() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.resources))
	for k, v := range m.resources {
		out[k] = v
	}
	return &Manager{resources: out}
}

// Len reports how many resources are currently registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources)
}
