package registry

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Registry is an ordered list with copy-on-write snapshots. Mutations are
// serialized by a mutex and publish a fresh immutable slice. Readers load
// the latest slice without locking.
type Registry[T any] struct {
	equal func(a, b T) bool

	mutex sync.Mutex
	items []T

	// published slices are never modified after Store
	snapshot atomic.Pointer[[]T]
}

func New[T any](equal func(a, b T) bool) *Registry[T] {
	r := &Registry[T]{
		equal: equal,
		mutex: sync.Mutex{},
		items: nil,
	}
	r.publish()
	return r
}

// caller must hold mutex
func (r *Registry[T]) publish() {
	s := slices.Clone(r.items)
	r.snapshot.Store(&s)
}

// Add appends item unless an equal item is already present.
func (r *Registry[T]) Add(item T) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if slices.ContainsFunc(r.items, func(x T) bool { return r.equal(x, item) }) {
		return false
	}
	r.items = append(r.items, item)
	r.publish()
	return true
}

// Replace swaps the equal item for item in place, appending when absent.
func (r *Registry[T]) Replace(item T) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := slices.IndexFunc(r.items, func(x T) bool { return r.equal(x, item) })
	if i < 0 {
		r.items = append(r.items, item)
	} else {
		r.items[i] = item
	}
	r.publish()
}

func (r *Registry[T]) Remove(item T) bool {
	return r.RemoveFunc(func(x T) bool { return r.equal(x, item) }) > 0
}

// RemoveFunc removes every item matching pred and returns the count.
func (r *Registry[T]) RemoveFunc(pred func(T) bool) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	before := len(r.items)
	r.items = slices.DeleteFunc(r.items, pred)
	removed := before - len(r.items)
	if removed > 0 {
		r.publish()
	}
	return removed
}

// TakeFunc removes and returns the first item matching pred.
func (r *Registry[T]) TakeFunc(pred func(T) bool) (T, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := slices.IndexFunc(r.items, pred)
	if i < 0 {
		var zero T
		return zero, false
	}
	item := r.items[i]
	r.items = slices.Delete(r.items, i, i+1)
	r.publish()
	return item, true
}

func (r *Registry[T]) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.items = nil
	r.publish()
}

// Snapshot returns the latest published slice. Callers must not modify it.
func (r *Registry[T]) Snapshot() []T {
	return *r.snapshot.Load()
}

func (r *Registry[T]) Len() int {
	return len(r.Snapshot())
}

func (r *Registry[T]) Find(pred func(T) bool) (T, bool) {
	for _, item := range r.Snapshot() {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Filter returns matching items in registry order.
func (r *Registry[T]) Filter(pred func(T) bool) []T {
	var matched []T
	for _, item := range r.Snapshot() {
		if pred(item) {
			matched = append(matched, item)
		}
	}
	return matched
}
