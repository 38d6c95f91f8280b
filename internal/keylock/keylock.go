// Package keylock provides mutual exclusion scoped to string keys.
package keylock

import (
	"slices"
	"sync"
)

// Table hands out per-key locks. The zero value is ready to use.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the locks for all keys and returns a function releasing them.
// Keys are locked in sorted order so overlapping callers cannot deadlock.
func (t *Table) Lock(keys ...string) (unlock func()) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*entry, 0, len(sorted))
	for _, k := range sorted {
		e := t.acquire(k)
		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			t.release(sorted[i])
		}
	}
}

func (t *Table) acquire(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*entry)
	}
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	return e
}

func (t *Table) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
