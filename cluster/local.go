package cluster

import (
	"context"
	"sync"
)

// Local keeps membership in-process. Caches sharing one Local instance form
// a cluster inside a single process — the topology used by tests and
// embedded deployments.
type Local struct {
	mu     sync.RWMutex
	groups map[string]map[Node]struct{}
}

var _ Registry = (*Local)(nil)

func NewLocal() *Local {
	return &Local{groups: make(map[string]map[Node]struct{})}
}

func (l *Local) Join(_ context.Context, cache string, n Node) error {
	l.mu.Lock()
	g, ok := l.groups[cache]
	if !ok {
		g = make(map[Node]struct{})
		l.groups[cache] = g
	}
	g[n] = struct{}{}
	l.mu.Unlock()
	return nil
}

func (l *Local) Members(_ context.Context, cache string) ([]Node, error) {
	l.mu.RLock()
	g := l.groups[cache]
	ns := make([]Node, 0, len(g))
	for n := range g {
		ns = append(ns, n)
	}
	l.mu.RUnlock()
	return Normalize(ns), nil
}
