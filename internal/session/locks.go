// ABOUTME: Per-session mutual exclusion so concurrent turns never interleave
// ABOUTME: Refcounted keyed mutexes; idle entries are removed on release

package session

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Locks serializes turns per session identifier. Turns for different
// sessions proceed independently; a second turn on the same session blocks
// until the first releases.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the lock for id is held and returns the release
// function. Callers must invoke the release exactly once.
func (l *Locks) Acquire(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &lockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, id)
			}
			l.mu.Unlock()
		})
	}
}
