package llm

import "sync"

// Model is a named, resolved model handle.
type Model struct {
	// Name is the key conversations pin, e.g. "gpt-4o-mini@openai".
	Name string
	// Model is the provider-side model id reported in usage records.
	Model    string
	Provider Provider
}

// Models is a registry of model handles that remembers registration order.
// The first registered model is the default.
type Models struct {
	mu     sync.RWMutex
	order  []string
	models map[string]Model
}

// NewModels creates an empty registry.
func NewModels() *Models {
	return &Models{models: make(map[string]Model)}
}

// Add registers m. Re-adding a name replaces the handle but keeps its position.
func (r *Models) Add(m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.Name]; !ok {
		r.order = append(r.order, m.Name)
	}
	r.models[m.Name] = m
}

// Get returns the model registered under name.
func (r *Models) Get(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// First returns the earliest registered model.
func (r *Models) First() (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return Model{}, false
	}
	return r.models[r.order[0]], true
}

// Names lists model names in registration order.
func (r *Models) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered models.
func (r *Models) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
