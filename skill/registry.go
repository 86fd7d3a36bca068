package skill

import (
	"sort"
	"sync"
)

// Registry is the process-wide mapping from unit ID to the currently loaded
// unit. All access is serialized through a single registry lock; entries are
// swapped whole, so a concurrent Get never observes a half-constructed unit.
// Callers holding a *Unit keep using the version that was current when they
// fetched it; a later reload does not invalidate it.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*Unit)}
}

// Get returns the current unit for an ID.
func (r *Registry) Get(unitID string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[unitID]
	return unit, ok
}

// Put installs or replaces the unit for its ID atomically.
func (r *Registry) Put(unit *Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.UnitID] = unit
}

// Delete removes the entry for an ID, reporting whether one existed.
func (r *Registry) Delete(unitID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[unitID]; !ok {
		return false
	}
	delete(r.units, unitID)
	return true
}

// List returns the registered unit IDs sorted by name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}
