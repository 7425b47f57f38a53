package otp

import "sync"

// lockTable hands out one mutex per (identity, purpose) key, created on
// demand and dropped once the last holder or waiter releases it. Per-key
// granularity keeps unrelated identities fully parallel while serializing
// every check-then-set window on a single key.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// acquire blocks until the key's mutex is held and returns its release
// function. The reference count covers waiters, so an entry is never
// deleted while a goroutine still queues on it.
func (t *lockTable) acquire(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
