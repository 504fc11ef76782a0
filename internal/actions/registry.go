package actions

import (
	"sort"
	"sync"
)

// Registry maps action names to their definitions. Safe for concurrent use.
// There is no package-level instance; build one at startup and hand it to
// the executor.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*ActionDefinition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]*ActionDefinition),
	}
}

// Register inserts or overwrites the definition keyed by its name; the last
// registration for a name wins. Nil definitions and empty names are ignored.
func (r *Registry) Register(def *ActionDefinition) {
	if def == nil || def.Name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[def.Name] = def
}

// Clear removes every registered action.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = make(map[string]*ActionDefinition)
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (*ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.actions[name]
	return def, ok
}

// Has checks if an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, def := range r.actions {
		infos = append(infos, def.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
