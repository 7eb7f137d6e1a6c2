package repcache

import "github.com/unkn0wn-root/repcache/cluster"

// Hooks are lightweight callbacks for high-signal replication events.
// Implementations MUST be cheap and non-blocking - the cache calls them on
// hot paths. Wrap a sink with hooks/async when it can block.
type Hooks interface {
	// A call to node failed at the transport while the node stayed
	// reachable (timeout, transient error).
	RPCFailure(node cluster.Node, op string, err error)

	// Nodes were unreachable at the transport layer; the operation
	// aborted.
	UnreachableNodes(op string, nodes []cluster.Node)

	// A lock batch attempt hit contention (attempt is 1-based).
	LockContention(cache string, attempt int)

	// Lock retries exhausted; the transaction aborted.
	TransactionAborted(cache string)

	// A winning (value, version) pair was broadcast to peers.
	OverrideApplied(key string, version int64, peers int)

	// A remote node returned an application error.
	RemoteOpError(node cluster.Node, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RPCFailure(cluster.Node, string, error)  {}
func (NopHooks) UnreachableNodes(string, []cluster.Node) {}
func (NopHooks) LockContention(string, int)              {}
func (NopHooks) TransactionAborted(string)               {}
func (NopHooks) OverrideApplied(string, int64, int)      {}
func (NopHooks) RemoteOpError(cluster.Node, error)       {}
