package settle

import "sync"

// keyedMutex serializes settlement per holding identity. Settlements for
// different users or symbols proceed in parallel; two settlements for the
// same (user, symbol) pair run strictly one after the other, so each one
// reads a current balance snapshot before mutating it.
//
// Entries are reference-counted and removed when the last holder unlocks,
// keeping the map bounded by the number of in-flight settlements.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
