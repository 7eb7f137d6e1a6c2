package sloghook

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/repcache"
	"github.com/unkn0wn-root/repcache/cluster"
)

type Options struct {
	// Sampling to avoid floods on flapping links; 0/1 = log all.
	RPCFailureEvery     uint64
	LockContentionEvery uint64
}

// Hooks logs replication events through slog, with optional sampling for
// the two events that can fire in bursts.
type Hooks struct {
	l    *slog.Logger
	opts Options

	rpcFailCtr    atomic.Uint64
	contentionCtr atomic.Uint64
}

var _ repcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RPCFailure(node cluster.Node, op string, err error) {
	if h.l == nil || !sample(h.opts.RPCFailureEvery, &h.rpcFailCtr) {
		return
	}
	h.l.Warn("repcache.rpc_failure",
		"node", string(node),
		"op", op,
		"err", err)
}

func (h *Hooks) UnreachableNodes(op string, nodes []cluster.Node) {
	if h.l == nil {
		return
	}
	ss := make([]string, len(nodes))
	for i, n := range nodes {
		ss[i] = string(n)
	}
	h.l.Error("repcache.unreachable_nodes",
		"op", op,
		"nodes", ss)
}

func (h *Hooks) LockContention(cache string, attempt int) {
	if h.l == nil || !sample(h.opts.LockContentionEvery, &h.contentionCtr) {
		return
	}
	h.l.Debug("repcache.lock_contention",
		"cache", cache,
		"attempt", attempt)
}

func (h *Hooks) TransactionAborted(cache string) {
	if h.l == nil {
		return
	}
	h.l.Warn("repcache.transaction_aborted",
		"cache", cache)
}

func (h *Hooks) OverrideApplied(key string, version int64, peers int) {
	if h.l == nil {
		return
	}
	h.l.Debug("repcache.override_applied",
		"key", key,
		"version", version,
		"peers", peers)
}

func (h *Hooks) RemoteOpError(node cluster.Node, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("repcache.remote_op_error",
		"node", string(node),
		"err", err)
}
