// Package registry keeps the process-wide table of live singleton instances.
//
// Each instance is registered under a logical name ("engine-worker") and a
// key that is unique to that incarnation. Holders keep the key, never the
// instance: once an incarnation is removed (reclaimed, restarted) its key no
// longer resolves, so stale holders observe absence instead of extending the
// instance's lifetime.
//
// Reads are lock-free; all mutation goes through a single writer lock so a
// check-then-create in Ensure can never register two instances for one name.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Key identifies one incarnation of a registered instance.
type Key string

func (k Key) String() string { return string(k) }

// NewKey returns a fresh incarnation key.
func NewKey() Key { return Key(uuid.NewString()) }

// Registry maps names to the live incarnation and keys to instances.
type Registry[T any] struct {
	writer  sync.Mutex
	byKey   cmap.ConcurrentMap[string, T]
	current cmap.ConcurrentMap[string, Key]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		byKey:   cmap.New[T](),
		current: cmap.New[Key](),
	}
}

// Ensure returns the live instance registered under name, creating it with
// create when none exists. created reports whether create ran. A create error
// leaves the registry unchanged.
func (r *Registry[T]) Ensure(name string, create func(Key) (T, error)) (key Key, value T, created bool, err error) {
	r.writer.Lock()
	defer r.writer.Unlock()

	if k, ok := r.current.Get(name); ok {
		if v, ok := r.byKey.Get(string(k)); ok {
			return k, v, false, nil
		}
	}

	key = NewKey()
	value, err = create(key)
	if err != nil {
		var zero T
		return "", zero, false, fmt.Errorf("create %s: %w", name, err)
	}
	r.byKey.Set(string(key), value)
	r.current.Set(name, key)
	return key, value, true, nil
}

// Lookup resolves key. It fails once the incarnation has been removed.
func (r *Registry[T]) Lookup(key Key) (T, bool) {
	return r.byKey.Get(string(key))
}

// Current returns the live incarnation for name.
func (r *Registry[T]) Current(name string) (Key, T, bool) {
	var zero T
	k, ok := r.current.Get(name)
	if !ok {
		return "", zero, false
	}
	v, ok := r.byKey.Get(string(k))
	if !ok {
		return "", zero, false
	}
	return k, v, true
}

// Remove drops the incarnation identified by key and reports whether it was live.
func (r *Registry[T]) Remove(key Key) bool {
	r.writer.Lock()
	defer r.writer.Unlock()
	if _, ok := r.byKey.Get(string(key)); !ok {
		return false
	}
	r.byKey.Remove(string(key))
	for name, k := range r.current.Items() {
		if k == key {
			r.current.Remove(name)
		}
	}
	return true
}

// Len returns the number of live incarnations.
func (r *Registry[T]) Len() int {
	return r.byKey.Count()
}

// Reset removes every entry.
func (r *Registry[T]) Reset() {
	r.writer.Lock()
	defer r.writer.Unlock()
	r.byKey.Clear()
	r.current.Clear()
}
