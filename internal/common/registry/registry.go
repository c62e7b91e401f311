package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry provides a shared key -> value table that refuses to overwrite.
type Registry[K comparable, T any] struct {
	items map[K]T
	mu    sync.RWMutex
}

func New[K comparable, T any]() *Registry[K, T] {
	return &Registry[K, T]{
		items: make(map[K]T),
	}
}

func (r *Registry[K, T]) Register(key K, item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return fmt.Errorf("key %v already registered", key)
	}
	r.items[key] = item
	return nil
}

// Replace stores item under key whether or not the key is taken.
func (r *Registry[K, T]) Replace(key K, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[key] = item
}

func (r *Registry[K, T]) Remove(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.items[key]
	delete(r.items, key)
	return ok
}

func (r *Registry[K, T]) Get(key K) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[key]
	return item, ok
}

func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Snapshot copies the current items, ordered by less when it is non-nil.
func (r *Registry[K, T]) Snapshot(less func(a, b K) bool) []T {
	r.mu.RLock()
	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	if less != nil {
		sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	}
	items := make([]T, 0, len(keys))
	for _, k := range keys {
		items = append(items, r.items[k])
	}
	r.mu.RUnlock()
	return items
}
