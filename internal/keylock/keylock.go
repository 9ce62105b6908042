// Package keylock serializes work per key (user, session, account) inside one process.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one mutex per key and forgets keys nobody holds.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until the key is held and returns the matching unlock function.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
