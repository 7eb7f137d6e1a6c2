// Package cluster tracks which nodes participate in a replicated cache.
// A node joins its cache's group at construction time and every member
// discovers the full set through Members. There is no leave operation:
// departed nodes are detected per call through unreachable-node failures.
package cluster

import (
	"context"
	"sort"
)

// Node identifies one cluster member. The string is transport-meaningful
// (e.g. host:port for the HTTP transport, any unique name in-process).
type Node string

// Registry is the authoritative membership store for cache groups.
type Registry interface {
	// Join idempotently adds n to the named cache's group.
	Join(ctx context.Context, cache string, n Node) error
	// Members returns the group as a deduplicated, sorted set.
	Members(ctx context.Context, cache string) ([]Node, error)
}

// Normalize returns ns deduplicated and sorted. The input is not mutated.
func Normalize(ns []Node) []Node {
	if len(ns) == 0 {
		return nil
	}
	seen := make(map[Node]struct{}, len(ns))
	out := make([]Node, 0, len(ns))
	for _, n := range ns {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Without returns ns with n removed. The input is not mutated.
func Without(ns []Node, n Node) []Node {
	out := make([]Node, 0, len(ns))
	for _, m := range ns {
		if m != n {
			out = append(out, m)
		}
	}
	return out
}
