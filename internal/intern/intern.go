// Package intern provides a mutex-guarded interning table keyed by a
// comparable value, guaranteeing that two calls with equal keys return the
// identical pointer (spec §3 Unit interning: "equal tuples share one heap
// address; units are compared by pointer"). Generalized from distri's
// internal/build/glob.go globCache, a mutex-guarded map memoizing glob
// results by pattern string.
package intern

import "sync"

// Table interns values of type V keyed by K. The zero value is not usable;
// construct with New.
type Table[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*V
}

// New constructs an empty interning table.
func New[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{m: map[K]*V{}}
}

// Intern returns the interned *V for key, calling make to construct it the
// first time key is seen. Every subsequent call with an equal key returns
// the same pointer.
func (t *Table[K, V]) Intern(key K, make_ func() V) *V {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.m[key]; ok {
		return v
	}
	v := make_()
	t.m[key] = &v
	return &v
}

// Len reports how many distinct values have been interned.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// All returns every interned value's pointer, in unspecified order.
func (t *Table[K, V]) All() []*V {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*V, 0, len(t.m))
	for _, v := range t.m {
		out = append(out, v)
	}
	return out
}
