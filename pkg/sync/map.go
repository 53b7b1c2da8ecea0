// Package sync contains typed wrappers around the standard library's
// concurrency primitives.
package sync

import "sync"

// TypedSyncMap is a sync.Map restricted to a single key and value type
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

func (m *TypedSyncMap[K, V]) Delete(key K) { m.m.Delete(key) }

// LoadOrStore returns the value already stored for the key if present (and
// true), otherwise the value provided is stored and returned (with false).
func (m *TypedSyncMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(key, value)
	if v, ok := actual.(V); ok {
		return v, loaded
	}

	var zero V
	return zero, loaded
}

// Len counts the entries present in the map. The count is only a snapshot,
// as entries may be added or removed concurrently.
func (m *TypedSyncMap[K, V]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
