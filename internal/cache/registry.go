package cache

import "sync"

// Registry is a concurrency-safe map from string IDs to values that
// remembers insertion order.
type Registry[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	order []string
}

// NewRegistry creates an empty Registry
func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{
		items: make(map[string]V),
	}
}

// Get retrieves a value by ID
func (r *Registry[V]) Get(id string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	return v, ok
}

// Set stores a value, keeping the original position when id already exists
func (r *Registry[V]) Set(id string, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		r.order = append(r.order, id)
	}
	r.items[id] = v
}

// Delete removes an ID and reports whether it was present
func (r *Registry[V]) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of entries
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Values returns the entries in insertion order
func (r *Registry[V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// Reset clears the registry and returns what it held, in insertion order
func (r *Registry[V]) Reset() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]V, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	r.items = make(map[string]V)
	r.order = nil
	return out
}
