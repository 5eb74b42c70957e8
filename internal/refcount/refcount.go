// Package refcount provides the kept-reference table pattern used by the
// access-control rights table and the durable-client coordinator's
// process-wide handle: a hash table owns one reference to each entry, and
// every lookup hands the caller a reference it must release, so the entry
// is only finalized once both the table and every caller have let go.
package refcount

import "sync"

// Table is a refcounted map from key K to value V. The zero Table is not
// usable; construct with NewTable.
type Table[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	release func(V)
}

type entry[V any] struct {
	value V
	count int
}

// NewTable creates an empty Table. release, if non-nil, runs exactly once
// when an entry's count drops to zero.
func NewTable[K comparable, V any](release func(V)) *Table[K, V] {
	return &Table[K, V]{entries: make(map[K]*entry[V]), release: release}
}

// Insert adds value under key, holding the table's own reference. It
// panics if key is already present — callers must Remove before
// re-inserting the same key.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		panic("refcount: Insert called on an already-present key")
	}
	t.entries[key] = &entry[V]{value: value, count: 1}
}

// Lookup returns the value for key with an extra kept reference, which the
// caller must release via Release. ok is false if key is absent.
func (t *Table[K, V]) Lookup(key K) (value V, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[key]
	if !exists {
		return value, false
	}
	e.count++
	return e.value, true
}

// Release drops one reference previously obtained from Lookup. When the
// count reaches zero the entry is removed from the table and release (if
// configured) runs with the table lock dropped.
func (t *Table[K, V]) Release(key K) {
	t.mu.Lock()
	e, exists := t.entries[key]
	if !exists {
		t.mu.Unlock()
		return
	}
	e.count--
	done := e.count <= 0
	if done {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	if done && t.release != nil {
		t.release(e.value)
	}
}

// Remove drops the table's own reference to key, as if Release had been
// called once on the table's behalf. Any references still held by callers
// keep the entry's finalizer from running until they too release it.
func (t *Table[K, V]) Remove(key K) {
	t.Release(key)
}

// Len returns the number of entries currently in the table.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
