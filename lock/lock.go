// Package lock provides cluster-wide mutual exclusion on (cache, key) pairs.
// Each node hosts a Table; a Manager acquires lock batches on every member
// through the rpc layer. Lock state for the in-flight call chain rides on
// the context, which is what makes nested transactions reentrant: ids
// already held by an outer scope are never re-acquired remotely.
package lock

import (
	"errors"
	"sync"
)

// ErrTransactionAborted is returned when a lock batch could not be acquired
// within the configured retries. The guarded function never ran.
var ErrTransactionAborted = errors.New("lock: transaction aborted")

// Table is one node's share of the cluster lock registry: lock id -> owner
// token. Acquisition is all-or-nothing per batch.
type Table struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewTable() *Table {
	return &Table{owners: make(map[string]string)}
}

// TryAcquire atomically claims every id for owner. If any id is held by a
// different owner, nothing is claimed. Ids already held by the same owner
// count as acquired.
func (t *Table) TryAcquire(ids []string, owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if cur, held := t.owners[id]; held && cur != owner {
			return false
		}
	}
	for _, id := range ids {
		t.owners[id] = owner
	}
	return true
}

// Release drops every id currently held by owner. Ids held by others are
// left untouched.
func (t *Table) Release(ids []string, owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if cur, held := t.owners[id]; held && cur == owner {
			delete(t.owners, id)
		}
	}
}

// Owner reports the current holder of id, if any.
func (t *Table) Owner(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.owners[id]
	return o, ok
}
