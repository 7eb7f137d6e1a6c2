package repcache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/repcache/cluster"
	"github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/rpc"
)

// multicall invokes req on every target node in parallel, bounded by the
// per-call rpc timeout, and reduces the outcomes:
//
//   - empty target set   -> (nil, nil)
//   - all responded OK   -> first response (replicas agree by invariant)
//   - application error  -> that error, identity preserved via RemoteError
//   - transport-unreachable node -> fatal *UnreachableError naming the nodes
//   - slow/failed but reachable  -> first response + tagged *PartialError
//
// Application errors win over partial transport failures: a remote conflict
// tells the caller something about the data, a timeout only about the
// network.
func (c *cache[V]) multicall(ctx context.Context, nodes []cluster.Node, req *rpc.Request) (*rpc.Response, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	type outcome struct {
		node cluster.Node
		resp *rpc.Response
		err  error
	}

	outs := make(chan outcome, len(nodes))
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n cluster.Node) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()
			resp, err := c.transport.Call(callCtx, n, req)
			outs <- outcome{node: n, resp: resp, err: err}
		}(n)
	}
	wg.Wait()
	close(outs)

	var (
		first       *rpc.Response
		appErr      error
		unreachable []cluster.Node
		failures    map[cluster.Node]error
	)
	for o := range outs {
		switch {
		case o.err != nil && rpc.IsUnreachable(o.err):
			unreachable = append(unreachable, o.node)
		case o.err != nil:
			if failures == nil {
				failures = make(map[cluster.Node]error)
			}
			failures[o.node] = o.err
			c.hooks.RPCFailure(o.node, req.Op.String(), o.err)
		case o.resp.Err != nil:
			if appErr == nil {
				appErr = c.remoteErr(o.node, o.resp.Err)
			}
			c.hooks.RemoteOpError(o.node, o.resp.Err)
		default:
			if first == nil {
				first = o.resp
			}
		}
	}

	if len(unreachable) > 0 {
		c.hooks.UnreachableNodes(req.Op.String(), unreachable)
		c.log.Error("multicall aborted: unreachable nodes", Fields{
			"cache": c.name, "op": req.Op.String(), "nodes": unreachable,
		})
		return nil, &UnreachableError{Nodes: cluster.Normalize(unreachable)}
	}
	if appErr != nil {
		return nil, appErr
	}
	if len(failures) > 0 {
		c.log.Warn("multicall partial failure", Fields{
			"cache": c.name, "op": req.Op.String(), "failed": len(failures),
		})
		return first, &PartialError{Failures: failures}
	}
	return first, nil
}

// remoteErr restores sentinel identity from a wire-tagged application error.
func (c *cache[V]) remoteErr(node cluster.Node, ce *rpc.CallError) error {
	switch ce.Kind {
	case rpc.KindConflict:
		return &RemoteError{Node: node, Err: engine.ErrVersionConflict}
	case rpc.KindAborted:
		return &RemoteError{Node: node, Err: ErrTransactionAborted}
	default:
		return &RemoteError{Node: node, Err: errors.New(ce.Msg)}
	}
}
