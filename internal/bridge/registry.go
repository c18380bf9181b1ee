package bridge

import (
	"sort"
	"sync"
)

// Registry maps remote session IDs to their running bridge and serializes
// lifecycle operations per session ID.
type Registry struct {
	mu      sync.Mutex
	bridges map[string]*Bridge
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
		locks:   make(map[string]*keyLock),
	}
}

// Lock acquires the per-session lifecycle lock and returns its release func.
// Different session IDs never contend.
func (r *Registry) Lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &keyLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// register adds b under id unless another bridge holds the slot.
func (r *Registry) register(id string, b *Bridge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bridges[id]; ok && existing != b {
		return ErrAlreadyActive
	}
	r.bridges[id] = b
	return nil
}

// unregister removes id only if it still maps to b.
func (r *Registry) unregister(id string, b *Bridge) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bridges[id]; ok && existing == b {
		delete(r.bridges, id)
		return true
	}
	return false
}

// Get returns the bridge registered for id.
func (r *Registry) Get(id string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[id]
	return b, ok
}

// IDs returns the registered session IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.bridges))
	for id := range r.bridges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}
