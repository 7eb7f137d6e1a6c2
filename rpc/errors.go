package rpc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/unkn0wn-root/repcache/cluster"
)

// UnreachableError is fatal: one or more target nodes are unreachable at the
// transport layer. The operation is abandoned rather than silently narrowed
// to the reachable members.
type UnreachableError struct {
	Nodes []cluster.Node
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("rpc: unreachable nodes: %s", joinNodes(e.Nodes))
}

func (e *UnreachableError) Unwrap() error { return ErrUnreachable }

// PartialError tags an operation that reached some nodes but not all: the
// failed members timed out or errored at the transport while staying
// reachable. It is returned as a value for the caller to judge — soft
// success with a caveat, or a reason to retry — rather than aborting the
// whole operation.
type PartialError struct {
	Failures map[cluster.Node]error
}

func (e *PartialError) Error() string {
	ns := make([]cluster.Node, 0, len(e.Failures))
	for n := range e.Failures {
		ns = append(ns, n)
	}
	return fmt.Sprintf("rpc: partial failure on %d node(s): %s", len(e.Failures), joinNodes(ns))
}

// Nodes returns the failed members, sorted.
func (e *PartialError) Nodes() []cluster.Node {
	ns := make([]cluster.Node, 0, len(e.Failures))
	for n := range e.Failures {
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
	return ns
}

func joinNodes(ns []cluster.Node) string {
	ss := make([]string, len(ns))
	for i, n := range ns {
		ss[i] = string(n)
	}
	sort.Strings(ss)
	return strings.Join(ss, ", ")
}
