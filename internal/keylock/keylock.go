// Package keylock provides mutual exclusion keyed by string, used to
// serialize read-modify-write cycles on file-backed records.
package keylock

import "sync"

// entry is a mutex with a count of goroutines holding or waiting on it, so
// the map entry can be dropped once nobody needs it.
type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. The zero value is ready to use. Locks
// are not reentrant: a goroutine must not Lock a key it already holds.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock blocks until the key is free and returns the function that releases it.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*entry)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
