package chat

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes Converse per session so concurrent calls on the
// same session queue up instead of interleaving turn pairs. Entries are
// reference counted and removed on the last unlock, so the map only ever
// holds sessions with calls in flight.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[uuid.UUID]*sessionLock)}
}

// lock blocks until the session's mutex is held and returns the unlock.
func (l *sessionLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &sessionLock{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

// size reports how many sessions currently hold an entry.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
