package loom

import "sync"

// Registry tracks every live instance of one kind. Frame-driven consumers
// enumerate it with GetValidContents while dispatch handlers on other
// goroutines insert and remove concurrently; a snapshot never contains a
// half-constructed, duplicated or dangling entry.
type Registry[T any] struct {
	lk       sync.RWMutex
	contents map[*T]struct{}
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		contents: make(map[*T]struct{}),
	}
}

// Add inserts a value and returns its handle. Re-adding a present value is
// a no-op.
func (r *Registry[T]) Add(v *T) *T {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.contents[v] = struct{}{}
	return v
}

// Remove is idempotent: removing an absent value is a no-op.
func (r *Registry[T]) Remove(v *T) {
	r.lk.Lock()
	defer r.lk.Unlock()
	delete(r.contents, v)
}

// GetValidContents returns a snapshot of the currently live entries. An
// entry removed mid-snapshot may or may not appear, but appears at most
// once. Order is unspecified.
func (r *Registry[T]) GetValidContents() []*T {
	r.lk.RLock()
	defer r.lk.RUnlock()
	snapshot := make([]*T, 0, len(r.contents))
	for v := range r.contents {
		snapshot = append(snapshot, v)
	}
	return snapshot
}

func (r *Registry[T]) Contains(v *T) bool {
	r.lk.RLock()
	defer r.lk.RUnlock()
	_, has := r.contents[v]
	return has
}

func (r *Registry[T]) Len() int {
	r.lk.RLock()
	defer r.lk.RUnlock()
	return len(r.contents)
}

func (r *Registry[T]) Clear() {
	r.lk.Lock()
	defer r.lk.Unlock()
	clear(r.contents)
}
