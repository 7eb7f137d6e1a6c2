package repcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/repcache"
	"github.com/unkn0wn-root/repcache/cluster"
	"github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/engine/memory"
	"github.com/unkn0wn-root/repcache/rpc"
)

// fixture wires n caches over a shared in-process registry and network, the
// embedded-cluster topology.
type fixture[V any] struct {
	reg   *cluster.Local
	net   *rpc.Network
	names []cluster.Node
	store []*memory.Store[V]
	cache []repcache.Cache[V]
}

func newFixture[V any](t *testing.T, name string, n int) *fixture[V] {
	t.Helper()
	f := &fixture[V]{
		reg: cluster.NewLocal(),
		net: rpc.NewNetwork(),
	}
	for i := 0; i < n; i++ {
		node := cluster.Node(string(rune('a' + i)))
		st := memory.New[V](memory.Options[V]{})
		c, err := repcache.New[V](repcache.Options[V]{
			Name:        name,
			Local:       st,
			Self:        node,
			Registry:    f.reg,
			Transport:   f.net,
			RPCTimeout:  200 * time.Millisecond,
			LockRetries: 3,
			LockBackoff: time.Millisecond,
		})
		if err != nil {
			t.Fatalf("New node %q: %v", node, err)
		}
		f.names = append(f.names, node)
		f.store = append(f.store, st)
		f.cache = append(f.cache, c)
	}
	return f
}

func (f *fixture[V]) entryOn(t *testing.T, i int, key string) (engine.Entry[V], bool) {
	t.Helper()
	e, ok, err := f.store[i].Get(context.Background(), key)
	if err != nil {
		t.Fatalf("engine get on %q: %v", f.names[i], err)
	}
	return e, ok
}

func TestSetReplicatesToAllMembers(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	if err := f.cache[0].Set(ctx, "u1", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var want engine.Entry[string]
	for i := range f.cache {
		e, ok := f.entryOn(t, i, "u1")
		if !ok {
			t.Fatalf("node %q missing the entry", f.names[i])
		}
		if e.Value != "alice" {
			t.Fatalf("node %q value = %q, want alice", f.names[i], e.Value)
		}
		if i == 0 {
			want = e
		} else if e.Version != want.Version {
			t.Fatalf("node %q version = %d, writer has %d", f.names[i], e.Version, want.Version)
		}
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	if err := f.cache[0].Set(ctx, "u1", "alice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.cache[1].Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for i := range f.cache {
		if _, ok := f.entryOn(t, i, "u1"); ok {
			t.Fatalf("node %q still has the entry after delete", f.names[i])
		}
	}
}

func TestFlushClearsEverywhere(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	for _, k := range []string{"u1", "u2", "u3"} {
		if err := f.cache[0].Set(ctx, k, "x"); err != nil {
			t.Fatalf("Set %q: %v", k, err)
		}
	}
	if err := f.cache[2].Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for i, c := range f.cache {
		n, err := c.Size(ctx)
		if err != nil {
			t.Fatalf("Size on %q: %v", f.names[i], err)
		}
		if n != 0 {
			t.Fatalf("node %q size = %d after flush", f.names[i], n)
		}
	}
}

// A write's outcome overrides peers even when a peer drifted to a higher
// version: last writer wins, conflict checks do not apply to the broadcast.
func TestBroadcastOverridesHigherPeerVersion(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	if err := f.cache[0].Set(ctx, "k", "first"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// drift node b ahead, bypassing replication
	hundred := int64(100)
	if _, err := f.store[1].Put(ctx, "k", "drifted", engine.WriteOptions{Version: &hundred}); err != nil {
		t.Fatalf("drift put: %v", err)
	}

	if err := f.cache[0].Set(ctx, "k", "second"); err != nil {
		t.Fatalf("Set after drift: %v", err)
	}
	writer, _ := f.entryOn(t, 0, "k")
	drifted, ok := f.entryOn(t, 1, "k")
	if !ok || drifted.Value != "second" {
		t.Fatalf("node b = %+v, want the winning value", drifted)
	}
	if drifted.Version != writer.Version {
		t.Fatalf("node b version = %d, writer version = %d; override must force it back", drifted.Version, writer.Version)
	}
	if drifted.Version >= 100 {
		t.Fatalf("node b version = %d, expected it forced below the drifted 100", drifted.Version)
	}
}

func TestSetVersionedConflictLeavesMembersUnchanged(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	if err := f.cache[0].SetVersioned(ctx, "k", "v5", 5); err != nil {
		t.Fatalf("SetVersioned: %v", err)
	}

	err := f.cache[1].SetVersioned(ctx, "k", "stale", 5)
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	for i := range f.cache {
		e, ok := f.entryOn(t, i, "k")
		if !ok || e.Value != "v5" || e.Version != 5 {
			t.Fatalf("node %q entry = %+v after rejected write", f.names[i], e)
		}
	}
}

func TestGetAndUpdateSequence(t *testing.T) {
	f := newFixture[int](t, "counters", 2)
	ctx := context.Background()

	double := func(cur *int) int {
		if cur == nil {
			return 1
		}
		return *cur * 2
	}

	prev, updated, err := f.cache[0].GetAndUpdate(ctx, "n", double)
	if err != nil || prev != nil || updated != 1 {
		t.Fatalf("first call = (%v, %d, %v), want (nil, 1, nil)", prev, updated, err)
	}
	prev, updated, err = f.cache[0].GetAndUpdate(ctx, "n", double)
	if err != nil || prev == nil || *prev != 1 || updated != 2 {
		t.Fatalf("second call = (%v, %d, %v), want (&1, 2, nil)", prev, updated, err)
	}
	// the replicated value feeds the transform on another member
	prev, updated, err = f.cache[1].GetAndUpdate(ctx, "n", double)
	if err != nil || prev == nil || *prev != 2 || updated != 4 {
		t.Fatalf("third call = (%v, %d, %v), want (&2, 4, nil)", prev, updated, err)
	}
	for i := range f.cache {
		v, ok, err := f.cache[i].Get(ctx, "n")
		if err != nil || !ok || v != 4 {
			t.Fatalf("node %q reads (%d, %v, %v), want 4", f.names[i], v, ok, err)
		}
	}
}

func TestUpdateCounterAccumulatesAcrossNodes(t *testing.T) {
	f := newFixture[int64](t, "counters", 3)
	ctx := context.Background()

	if n, err := f.cache[0].UpdateCounter(ctx, "hits", 5); err != nil || n != 5 {
		t.Fatalf("first increment = (%d, %v), want 5", n, err)
	}
	if n, err := f.cache[1].UpdateCounter(ctx, "hits", -2); err != nil || n != 3 {
		t.Fatalf("second increment = (%d, %v), want 3", n, err)
	}
	for i := range f.cache {
		v, ok, err := f.cache[i].Get(ctx, "hits")
		if err != nil || !ok || v != 3 {
			t.Fatalf("node %q reads (%d, %v, %v), want 3", f.names[i], v, ok, err)
		}
	}
}

func TestUpdateInitThenTransform(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	appendBang := func(cur string) string { return cur + "!" }
	if got, err := f.cache[0].Update(ctx, "k", "hi", appendBang); err != nil || got != "hi" {
		t.Fatalf("init update = (%q, %v), want hi", got, err)
	}
	if got, err := f.cache[1].Update(ctx, "k", "hi", appendBang); err != nil || got != "hi!" {
		t.Fatalf("transform update = (%q, %v), want hi!", got, err)
	}
}

func TestTakeIsLocalOnly(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	if err := f.cache[0].Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := f.cache[0].Take(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Take = (%q, %v, %v)", v, ok, err)
	}
	if _, ok := f.entryOn(t, 0, "k"); ok {
		t.Fatal("taker still has the entry")
	}
	if _, ok := f.entryOn(t, 1, "k"); !ok {
		t.Fatal("Take must not touch peers")
	}
}

// lockSpy records every lock acquire batch that reaches a node.
type lockSpy struct {
	inner rpc.Service
	mu    sync.Mutex
	grabs [][]string
}

func (s *lockSpy) Invoke(ctx context.Context, req *rpc.Request) *rpc.Response {
	if req.Op == rpc.OpLockAcquire {
		s.mu.Lock()
		s.grabs = append(s.grabs, append([]string(nil), req.LockIDs...))
		s.mu.Unlock()
	}
	return s.inner.Invoke(ctx, req)
}

func (s *lockSpy) take() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.grabs
	s.grabs = nil
	return g
}

func TestNestedTransactionReentrancy(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	spies := make([]*lockSpy, len(f.cache))
	for i, c := range f.cache {
		spies[i] = &lockSpy{inner: c.Service()}
		f.net.Register(f.names[i], spies[i])
	}
	drain := func() (all [][]string) {
		for _, s := range spies {
			all = append(all, s.take()...)
		}
		return all
	}

	err := f.cache[0].Transaction(ctx, []string{"a", "b"}, func(ctx context.Context) error {
		if g := drain(); len(g) != len(f.cache) {
			t.Fatalf("outer acquired %d batches, want one per node", len(g))
		}

		// subset of held keys: inherited, nothing crosses the wire
		err := f.cache[0].Transaction(ctx, []string{"a"}, func(ctx context.Context) error {
			return f.cache[0].Set(ctx, "a", "inner")
		})
		if err != nil {
			t.Fatalf("subset transaction: %v", err)
		}
		if g := drain(); len(g) != 0 {
			t.Fatalf("subset re-acquired locks: %v", g)
		}

		// superset: only the new key's id is acquired
		err = f.cache[0].Transaction(ctx, []string{"a", "c"}, func(ctx context.Context) error { return nil })
		if err != nil {
			t.Fatalf("superset transaction: %v", err)
		}
		for _, ids := range drain() {
			if len(ids) != 1 || ids[0] != "sessions:c" {
				t.Fatalf("superset acquired %v, want only sessions:c", ids)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	// outer locks are gone: a fresh chain acquires them again
	if err := f.cache[1].Set(ctx, "a", "after"); err != nil {
		t.Fatalf("Set after transaction: %v", err)
	}
}

func TestInnerReleaseKeepsOuterLocks(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	err := f.cache[0].Transaction(ctx, []string{"a"}, func(ctx context.Context) error {
		// inner scope acquires and releases "b"; "a" must stay held
		err := f.cache[0].Transaction(ctx, []string{"b"}, func(ctx context.Context) error { return nil })
		if err != nil {
			return err
		}
		// a competing chain on "a" must still hit contention
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err = f.cache[1].Transaction(waitCtx, []string{"a"}, func(ctx context.Context) error { return nil })
		if err == nil {
			t.Fatal("competing transaction acquired a lock the outer scope still holds")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
}

// denyLocks simulates a member whose lock table never grants.
type denyLocks struct{ inner rpc.Service }

func (d denyLocks) Invoke(ctx context.Context, req *rpc.Request) *rpc.Response {
	if req.Op == rpc.OpLockAcquire {
		return &rpc.Response{OK: false}
	}
	return d.inner.Invoke(ctx, req)
}

func TestContentionAbortsWithoutPartialWrite(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	f.net.Register(f.names[1], denyLocks{inner: f.cache[1].Service()})

	err := f.cache[0].Set(ctx, "k", "v")
	if !errors.Is(err, repcache.ErrTransactionAborted) {
		t.Fatalf("err = %v, want ErrTransactionAborted", err)
	}
	if _, ok := f.entryOn(t, 0, "k"); ok {
		t.Fatal("aborted write mutated the local engine")
	}
}

func TestUnreachableMemberAbortsWrites(t *testing.T) {
	f := newFixture[string](t, "sessions", 2)
	ctx := context.Background()

	// a member that joined but whose transport endpoint is gone
	if err := f.reg.Join(ctx, "sessions", "ghost"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	err := f.cache[0].Set(ctx, "k", "v")
	var ue *repcache.UnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UnreachableError", err)
	}
	if len(ue.Nodes) != 1 || ue.Nodes[0] != "ghost" {
		t.Fatalf("unreachable nodes = %v, want [ghost]", ue.Nodes)
	}
	if !errors.Is(err, rpc.ErrUnreachable) {
		t.Fatalf("err = %v, want it to match rpc.ErrUnreachable", err)
	}
	if _, ok := f.entryOn(t, 0, "k"); ok {
		t.Fatal("aborted write mutated the local engine")
	}
}

func TestNewGenerationRotatesEveryMember(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	if err := f.cache[0].Set(ctx, "old", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	gens, err := f.cache[0].NewGeneration(ctx)
	if err != nil {
		t.Fatalf("NewGeneration: %v", err)
	}
	if len(gens) != len(f.cache) {
		t.Fatalf("got gens for %d nodes, want %d", len(gens), len(f.cache))
	}
	for n, g := range gens {
		if g != 1 {
			t.Fatalf("node %q generation = %d, want 1", n, g)
		}
	}

	// untouched entries fall off after the retained generations rotate out
	if _, err := f.cache[0].NewGeneration(ctx); err != nil {
		t.Fatalf("second NewGeneration: %v", err)
	}
	for i := range f.cache {
		if _, ok := f.entryOn(t, i, "old"); ok {
			t.Fatalf("node %q kept an entry across two rotations", f.names[i])
		}
	}
}

// failGen simulates an engine failure on one member's rotation.
type failGen struct{ inner rpc.Service }

func (fg failGen) Invoke(ctx context.Context, req *rpc.Request) *rpc.Response {
	if req.Op == rpc.OpNewGeneration {
		return &rpc.Response{Err: &rpc.CallError{Kind: rpc.KindInternal, Msg: "disk full"}}
	}
	return fg.inner.Invoke(ctx, req)
}

func TestNewGenerationPartialFailure(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)
	ctx := context.Background()

	f.net.Register(f.names[2], failGen{inner: f.cache[2].Service()})

	gens, err := f.cache[0].NewGeneration(ctx)
	var pe *repcache.PartialError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PartialError", err)
	}
	if len(pe.Failures) != 1 {
		t.Fatalf("failures = %v, want just the failing node", pe.Failures)
	}
	if _, failed := pe.Failures[f.names[2]]; !failed {
		t.Fatalf("failures = %v, want node %q", pe.Failures, f.names[2])
	}
	// the rotation still happened on the healthy members
	if len(gens) != 2 {
		t.Fatalf("gens = %v, want outcomes for the two healthy nodes", gens)
	}
}

// recHooks records hook events for assertions.
type recHooks struct {
	mu        sync.Mutex
	overrides int
	aborted   int
}

func (h *recHooks) RPCFailure(cluster.Node, string, error)  {}
func (h *recHooks) UnreachableNodes(string, []cluster.Node) {}
func (h *recHooks) LockContention(string, int)              {}
func (h *recHooks) RemoteOpError(cluster.Node, error)       {}

func (h *recHooks) TransactionAborted(string) {
	h.mu.Lock()
	h.aborted++
	h.mu.Unlock()
}

func (h *recHooks) OverrideApplied(string, int64, int) {
	h.mu.Lock()
	h.overrides++
	h.mu.Unlock()
}

func TestHooksObserveOverrides(t *testing.T) {
	reg := cluster.NewLocal()
	net := rpc.NewNetwork()
	hooks := &recHooks{}

	var caches []repcache.Cache[string]
	for _, n := range []cluster.Node{"a", "b"} {
		c, err := repcache.New[string](repcache.Options[string]{
			Name:      "hooked",
			Local:     memory.New[string](memory.Options[string]{}),
			Self:      n,
			Registry:  reg,
			Transport: net,
			Hooks:     hooks,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		caches = append(caches, c)
	}

	if err := caches[0].Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.overrides == 0 {
		t.Fatal("OverrideApplied never fired for a replicated write")
	}
}

func TestNodesReflectsMembership(t *testing.T) {
	f := newFixture[string](t, "sessions", 3)

	ns, err := f.cache[0].Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(ns) != 3 {
		t.Fatalf("members = %v, want 3", ns)
	}
	want := cluster.Normalize(f.names)
	for i := range ns {
		if ns[i] != want[i] {
			t.Fatalf("members = %v, want %v", ns, want)
		}
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := repcache.New[string](repcache.Options[string]{Local: memory.New[string](memory.Options[string]{})}); err == nil {
		t.Fatal("New accepted a cache without a name")
	}
	if _, err := repcache.New[string](repcache.Options[string]{Name: "x"}); err == nil {
		t.Fatal("New accepted a cache without a local engine")
	}
}
