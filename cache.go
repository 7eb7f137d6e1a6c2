package repcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	co "github.com/unkn0wn-root/repcache/codec"
	"github.com/unkn0wn-root/repcache/cluster"
	"github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/lock"
	"github.com/unkn0wn-root/repcache/rpc"
)

type cache[V any] struct {
	name      string
	self      cluster.Node
	local     engine.Engine[V]
	codec     co.Codec[V]
	registry  cluster.Registry
	transport rpc.Caller
	locks     *lock.Manager
	table     *lock.Table
	svc       rpc.Service

	rpcTimeout time.Duration
	log        Logger
	hooks      Hooks
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("repcache: cache name is required")
	}
	if opts.Local == nil {
		return nil, fmt.Errorf("repcache: local engine is required")
	}

	c := &cache[V]{
		name:  opts.Name,
		local: opts.Local,
	}

	// defaults
	c.self = coalesce(opts.Self, cluster.Node("local"))
	c.rpcTimeout = coalesce(opts.RPCTimeout, time.Second)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.Codec != nil {
		c.codec = opts.Codec
	} else {
		c.codec = co.JSON[V]{}
	}
	if opts.Registry != nil {
		c.registry = opts.Registry
	} else {
		c.registry = cluster.NewLocal()
	}
	if opts.Transport != nil {
		c.transport = opts.Transport
	} else {
		c.transport = rpc.NewNetwork()
	}

	c.table = lock.NewTable()
	c.svc = &service[V]{c: c}
	if reg, ok := c.transport.(rpc.Registrar); ok {
		reg.Register(c.self, c.svc)
	}

	c.locks = &lock.Manager{
		Cache:   c.name,
		Caller:  c.transport,
		Retries: coalesce(opts.LockRetries, 16),
		Backoff: coalesce(opts.LockBackoff, 10*time.Millisecond),
		Timeout: c.rpcTimeout,
		OnContention: func(attempt int) {
			c.hooks.LockContention(c.name, attempt)
		},
	}

	// membership join is part of setup; an unavailable registry is fatal
	if err := c.registry.Join(context.Background(), c.name, c.self); err != nil {
		return nil, fmt.Errorf("repcache: join cluster %q: %w", c.name, err)
	}
	c.log.Info("joined replicated cache group", Fields{"cache": c.name, "node": c.self})

	return c, nil
}

func (c *cache[V]) Service() rpc.Service { return c.svc }

func (c *cache[V]) Close(ctx context.Context) error {
	return c.local.Close(ctx)
}

func (c *cache[V]) members(ctx context.Context) ([]cluster.Node, error) {
	ns, err := c.registry.Members(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("repcache: membership lookup: %w", err)
	}
	return ns, nil
}

// ==============================
// Read path - local engine only
// ==============================

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	e, ok, err := c.local.Get(ctx, key)
	return e.Value, ok, err
}

func (c *cache[V]) Has(ctx context.Context, key string) (bool, error) {
	return c.local.Has(ctx, key)
}

func (c *cache[V]) Keys(ctx context.Context) ([]string, error) {
	return c.local.Keys(ctx)
}

func (c *cache[V]) Size(ctx context.Context) (int, error) {
	return c.local.Size(ctx)
}

func (c *cache[V]) Reduce(ctx context.Context, init any, fn func(acc any, key string, value V) any) (any, error) {
	return c.local.Reduce(ctx, init, func(acc any, key string, e engine.Entry[V]) any {
		return fn(acc, key, e.Value)
	})
}

func (c *cache[V]) ToMap(ctx context.Context) (map[string]V, error) {
	return c.local.ToMap(ctx)
}

func (c *cache[V]) Take(ctx context.Context, key string) (V, bool, error) {
	e, ok, err := c.local.Take(ctx, key)
	return e.Value, ok, err
}

// ==============================
// Write path - lock, local op, override broadcast
// ==============================

// withLocks wraps the manager so lock-phase failures surface through hooks.
func (c *cache[V]) withLocks(ctx context.Context, keys []string, nodes []cluster.Node, fn func(ctx context.Context) error) error {
	err := c.locks.WithLocks(ctx, keys, nodes, fn)
	if errors.Is(err, ErrTransactionAborted) {
		c.hooks.TransactionAborted(c.name)
		c.log.Warn("transaction aborted: lock retries exhausted", Fields{"cache": c.name})
	}
	var ue *UnreachableError
	if errors.As(err, &ue) {
		c.hooks.UnreachableNodes(rpc.OpLockAcquire.String(), ue.Nodes)
	}
	return err
}

// replicate is the single-key write protocol: hold the key's cluster-wide
// lock, run op against the local engine, then push the winning entry to
// every other member. Errors from op (version conflict, bad transform)
// propagate verbatim and nothing is broadcast.
func (c *cache[V]) replicate(ctx context.Context, key string, op func(ctx context.Context) (engine.Entry[V], error)) error {
	ns, err := c.members(ctx)
	if err != nil {
		return err
	}
	return c.withLocks(ctx, []string{key}, ns, func(ctx context.Context) error {
		e, err := op(ctx)
		if err != nil {
			return err
		}
		return c.broadcastEntry(ctx, ns, key, e)
	})
}

func (c *cache[V]) broadcastEntry(ctx context.Context, members []cluster.Node, key string, e engine.Entry[V]) error {
	peers := cluster.Without(members, c.self)
	if len(peers) == 0 {
		return nil
	}
	payload, err := c.codec.Encode(e.Value)
	if err != nil {
		return fmt.Errorf("repcache: encode %q for broadcast: %w", key, err)
	}
	_, err = c.multicall(ctx, peers, &rpc.Request{
		Cache:      c.name,
		Op:         rpc.OpPut,
		Key:        key,
		Value:      payload,
		Version:    e.Version,
		HasVersion: true,
		Override:   true,
	})
	if err == nil {
		c.hooks.OverrideApplied(key, e.Version, len(peers))
	}
	return err
}

func (c *cache[V]) Set(ctx context.Context, key string, value V) error {
	return c.replicate(ctx, key, func(ctx context.Context) (engine.Entry[V], error) {
		return c.local.Put(ctx, key, value, engine.WriteOptions{})
	})
}

func (c *cache[V]) SetVersioned(ctx context.Context, key string, value V, version int64) error {
	return c.replicate(ctx, key, func(ctx context.Context) (engine.Entry[V], error) {
		return c.local.Put(ctx, key, value, engine.WriteOptions{Version: &version})
	})
}

func (c *cache[V]) Update(ctx context.Context, key string, init V, fn func(cur V) V) (V, error) {
	var stored V
	err := c.replicate(ctx, key, func(ctx context.Context) (engine.Entry[V], error) {
		e, err := c.local.Update(ctx, key, init, fn, engine.WriteOptions{})
		if err == nil {
			stored = e.Value
		}
		return e, err
	})
	return stored, err
}

func (c *cache[V]) UpdateCounter(ctx context.Context, key string, delta int64) (int64, error) {
	var total int64
	err := c.replicate(ctx, key, func(ctx context.Context) (engine.Entry[V], error) {
		e, err := c.local.UpdateCounter(ctx, key, delta, engine.WriteOptions{})
		if err != nil {
			return e, err
		}
		n, ok := engine.CounterValue(e.Value)
		if !ok {
			return e, engine.ErrNotCounter
		}
		total = n
		return e, nil
	})
	return total, err
}

func (c *cache[V]) GetAndUpdate(ctx context.Context, key string, fn func(cur *V) V) (*V, V, error) {
	var prev *V
	var updated V
	err := c.replicate(ctx, key, func(ctx context.Context) (engine.Entry[V], error) {
		p, e, err := c.local.GetAndUpdate(ctx, key, fn, engine.WriteOptions{})
		if err != nil {
			return e, err
		}
		prev, updated = p, e.Value
		return e, nil
	})
	return prev, updated, err
}

// ==============================
// Cluster-wide writes and management
// ==============================

func (c *cache[V]) Delete(ctx context.Context, key string) error {
	ns, err := c.members(ctx)
	if err != nil {
		return err
	}
	// delete is idempotent and order-independent: multicall every member,
	// local one included, under the key's lock
	return c.withLocks(ctx, []string{key}, ns, func(ctx context.Context) error {
		_, err := c.multicall(ctx, ns, &rpc.Request{Cache: c.name, Op: rpc.OpDelete, Key: key})
		return err
	})
}

func (c *cache[V]) Flush(ctx context.Context) error {
	ns, err := c.members(ctx)
	if err != nil {
		return err
	}
	return c.withLocks(ctx, nil, ns, func(ctx context.Context) error {
		_, err := c.multicall(ctx, ns, &rpc.Request{Cache: c.name, Op: rpc.OpFlush})
		return err
	})
}

func (c *cache[V]) Transaction(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ns, err := c.members(ctx)
	if err != nil {
		return err
	}
	return c.withLocks(ctx, keys, ns, fn)
}

func (c *cache[V]) Nodes(ctx context.Context) ([]cluster.Node, error) {
	return c.members(ctx)
}

// NewGeneration needs per-node results, so it fans out on its own instead of
// going through the single-result multicall reduction.
func (c *cache[V]) NewGeneration(ctx context.Context) (map[cluster.Node]int64, error) {
	ns, err := c.members(ctx)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		node cluster.Node
		gen  int64
		err  error
	}
	req := &rpc.Request{Cache: c.name, Op: rpc.OpNewGeneration}
	outs := make(chan outcome, len(ns))
	var wg sync.WaitGroup
	for _, n := range ns {
		wg.Add(1)
		go func(n cluster.Node) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()
			resp, err := c.transport.Call(callCtx, n, req)
			switch {
			case err != nil:
				outs <- outcome{node: n, err: err}
			case resp.Err != nil:
				outs <- outcome{node: n, err: c.remoteErr(n, resp.Err)}
			default:
				outs <- outcome{node: n, gen: resp.Gen}
			}
		}(n)
	}
	wg.Wait()
	close(outs)

	gens := make(map[cluster.Node]int64, len(ns))
	var unreachable []cluster.Node
	failures := make(map[cluster.Node]error)
	for o := range outs {
		switch {
		case o.err == nil:
			gens[o.node] = o.gen
		case rpc.IsUnreachable(o.err):
			unreachable = append(unreachable, o.node)
		default:
			failures[o.node] = o.err
		}
	}
	if len(unreachable) > 0 {
		c.hooks.UnreachableNodes(req.Op.String(), unreachable)
		return gens, &UnreachableError{Nodes: cluster.Normalize(unreachable)}
	}
	if len(failures) > 0 {
		return gens, &PartialError{Failures: failures}
	}
	return gens, nil
}
