// Package asynchook decouples Hooks sinks from replication hot paths: events
// are queued and delivered by worker goroutines, and dropped when the queue
// is full rather than blocking a write.
//
// usage:
//
//	raw := promhook.New(prometheus.DefaultRegisterer)
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := repcache.New[User](repcache.Options[User]{
//	    Name:  "users",
//	    Local: memory.New[User](memory.Options[User]{}),
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/repcache"
	"github.com/unkn0wn-root/repcache/cluster"
)

type Hooks struct {
	inner repcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ repcache.Hooks = (*Hooks)(nil)

func New(inner repcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) RPCFailure(node cluster.Node, op string, err error) {
	h.try(func() { h.inner.RPCFailure(node, op, err) })
}

func (h *Hooks) UnreachableNodes(op string, nodes []cluster.Node) {
	ns := append([]cluster.Node(nil), nodes...)
	h.try(func() { h.inner.UnreachableNodes(op, ns) })
}

func (h *Hooks) LockContention(cache string, attempt int) {
	h.try(func() { h.inner.LockContention(cache, attempt) })
}

func (h *Hooks) TransactionAborted(cache string) {
	h.try(func() { h.inner.TransactionAborted(cache) })
}

func (h *Hooks) OverrideApplied(key string, version int64, peers int) {
	h.try(func() { h.inner.OverrideApplied(key, version, peers) })
}

func (h *Hooks) RemoteOpError(node cluster.Node, err error) {
	h.try(func() { h.inner.RemoteOpError(node, err) })
}
