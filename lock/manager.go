package lock

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/repcache/cluster"
	"github.com/unkn0wn-root/repcache/rpc"
)

// Manager acquires lock batches across a node set. One Manager per cache
// per node.
type Manager struct {
	// Cache is the cache identity; it doubles as the cache-wide lock id.
	Cache string
	// Caller issues the acquire/release calls.
	Caller rpc.Caller
	// Retries bounds re-attempts after contention. 0 => single attempt.
	Retries int
	// Backoff is the base sleep between attempts, jittered. 0 => 10ms.
	Backoff time.Duration
	// Timeout bounds each per-node call. 0 => inherit the caller's ctx.
	Timeout time.Duration
	// OnContention, when set, observes failed attempts (attempt is
	// 1-based).
	OnContention func(attempt int)
}

// IDs computes the lock ids for keys. nil/empty keys means a manual
// whole-cache transaction and maps to the single cache-wide id.
func (m *Manager) IDs(keys []string) []string {
	if len(keys) == 0 {
		return []string{m.Cache}
	}
	seen := make(map[string]struct{}, len(keys))
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := m.Cache + ":" + k
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithLocks runs fn while holding the locks for keys on every node in nodes.
// Ids already held by the current call chain are inherited, not re-acquired;
// on exit exactly the ids this call acquired are released. Acquisition is
// all-or-nothing per attempt and aborts with ErrTransactionAborted once
// retries are exhausted. Unreachable nodes abort immediately.
func (m *Manager) WithLocks(ctx context.Context, keys []string, nodes []cluster.Node, fn func(ctx context.Context) error) error {
	ch := chainFrom(ctx)
	if ch == nil {
		ch = newChain()
		ctx = withChain(ctx, ch)
	}

	ids := m.IDs(keys)
	fresh := ids[:0:0]
	for _, id := range ids {
		if _, held := ch.held[id]; !held {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		// everything inherited from an outer scope
		return fn(ctx)
	}

	if err := m.acquire(ctx, fresh, ch.owner, nodes); err != nil {
		return err
	}
	for _, id := range fresh {
		ch.held[id] = struct{}{}
	}
	defer func() {
		for _, id := range fresh {
			delete(ch.held, id)
		}
		m.release(fresh, ch.owner, nodes)
	}()

	return fn(ctx)
}

func (m *Manager) acquire(ctx context.Context, ids []string, owner string, nodes []cluster.Node) error {
	backoff := m.Backoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}

	attempts := m.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		granted, unreachable := m.fanout(ctx, &rpc.Request{
			Cache:   m.Cache,
			Op:      rpc.OpLockAcquire,
			LockIDs: ids,
			Owner:   owner,
		}, nodes)

		if len(unreachable) > 0 {
			m.release(ids, owner, granted)
			return &rpc.UnreachableError{Nodes: unreachable}
		}
		if len(granted) == len(nodes) {
			return nil
		}

		// contention somewhere in the batch; back out and retry
		m.release(ids, owner, granted)
		if m.OnContention != nil {
			m.OnContention(attempt)
		}
		if attempt == attempts {
			break
		}
		sleep := time.Duration(attempt)*backoff + time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrTransactionAborted
}

// fanout issues req to every node in parallel and reports which granted it
// and which were unreachable. Contention and transient errors simply leave a
// node out of granted.
func (m *Manager) fanout(ctx context.Context, req *rpc.Request, nodes []cluster.Node) (granted, unreachable []cluster.Node) {
	type outcome struct {
		node        cluster.Node
		ok          bool
		unreachable bool
	}

	out := make(chan outcome, len(nodes))
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n cluster.Node) {
			defer wg.Done()
			callCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}
			resp, err := m.Caller.Call(callCtx, n, req)
			if err != nil {
				out <- outcome{node: n, unreachable: rpc.IsUnreachable(err)}
				return
			}
			out <- outcome{node: n, ok: resp.OK && resp.Err == nil}
		}(n)
	}
	wg.Wait()
	close(out)

	for o := range out {
		switch {
		case o.unreachable:
			unreachable = append(unreachable, o.node)
		case o.ok:
			granted = append(granted, o.node)
		}
	}
	return granted, unreachable
}

// release is best-effort: a node that misses the release self-heals when the
// owner never comes back for the id (its table entry is overwritten by the
// same owner or stays until contention surfaces to an operator).
func (m *Manager) release(ids []string, owner string, nodes []cluster.Node) {
	if len(nodes) == 0 {
		return
	}
	req := &rpc.Request{
		Cache:   m.Cache,
		Op:      rpc.OpLockRelease,
		LockIDs: ids,
		Owner:   owner,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.fanout(ctx, req, nodes)
}
