package likes

import "sync"

// lockTable hands out one mutex per item id. Entries are reference counted
// and dropped when the last holder releases them.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*itemLock
}

type itemLock struct {
	sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*itemLock)}
}

// lock blocks until the caller holds the lock for id and returns the
// matching unlock func.
func (t *lockTable) lock(id int64) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &itemLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
