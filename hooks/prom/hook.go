// Package promhook exports replication events as Prometheus counters.
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/repcache"
	"github.com/unkn0wn-root/repcache/cluster"
)

type Hooks struct {
	rpcFailures    *prometheus.CounterVec
	unreachable    *prometheus.CounterVec
	lockContention *prometheus.CounterVec
	txAborted      *prometheus.CounterVec
	overrides      prometheus.Counter
	remoteOpErrors *prometheus.CounterVec
}

var _ repcache.Hooks = (*Hooks)(nil)

// New registers the repcache counters with reg and returns the sink.
// Pass prometheus.DefaultRegisterer for the global registry. Registration
// panics on duplicate collectors, so build one sink per process.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		rpcFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "rpc_failures_total",
			Help:      "Cross-node calls that failed while the node stayed reachable.",
		}, []string{"node", "op"}),
		unreachable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "unreachable_nodes_total",
			Help:      "Operations aborted because members were unreachable.",
		}, []string{"op"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "lock_contention_total",
			Help:      "Lock batch attempts that hit contention.",
		}, []string{"cache"}),
		txAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "transactions_aborted_total",
			Help:      "Transactions aborted after exhausting lock retries.",
		}, []string{"cache"}),
		overrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "overrides_total",
			Help:      "Winning (value, version) pairs broadcast to peers.",
		}),
		remoteOpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repcache",
			Name:      "remote_op_errors_total",
			Help:      "Application errors returned by remote nodes.",
		}, []string{"node"}),
	}
	reg.MustRegister(
		h.rpcFailures,
		h.unreachable,
		h.lockContention,
		h.txAborted,
		h.overrides,
		h.remoteOpErrors,
	)
	return h
}

func (h *Hooks) RPCFailure(node cluster.Node, op string, err error) {
	h.rpcFailures.WithLabelValues(string(node), op).Inc()
}

func (h *Hooks) UnreachableNodes(op string, nodes []cluster.Node) {
	h.unreachable.WithLabelValues(op).Add(float64(len(nodes)))
}

func (h *Hooks) LockContention(cache string, attempt int) {
	h.lockContention.WithLabelValues(cache).Inc()
}

func (h *Hooks) TransactionAborted(cache string) {
	h.txAborted.WithLabelValues(cache).Inc()
}

func (h *Hooks) OverrideApplied(key string, version int64, peers int) {
	h.overrides.Inc()
}

func (h *Hooks) RemoteOpError(node cluster.Node, err error) {
	h.remoteOpErrors.WithLabelValues(string(node)).Inc()
}
