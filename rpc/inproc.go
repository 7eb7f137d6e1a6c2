package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/repcache/cluster"
)

// Network is the in-process transport: a registry of Services keyed by node.
// Caches sharing one Network form a cluster inside a single process. Calls
// to nodes that never registered fail with ErrUnreachable, which is what
// lets tests model dead members.
type Network struct {
	mu       sync.RWMutex
	services map[cluster.Node]Service
}

var (
	_ Caller    = (*Network)(nil)
	_ Registrar = (*Network)(nil)
)

func NewNetwork() *Network {
	return &Network{services: make(map[cluster.Node]Service)}
}

func (n *Network) Register(node cluster.Node, svc Service) {
	n.mu.Lock()
	n.services[node] = svc
	n.mu.Unlock()
}

func (n *Network) Call(ctx context.Context, node cluster.Node, req *Request) (*Response, error) {
	n.mu.RLock()
	svc, ok := n.services[node]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("rpc: node %q: %w", node, ErrUnreachable)
	}

	// invoke off-goroutine so the caller's deadline is honored even when
	// the service blocks
	ch := make(chan *Response, 1)
	go func() { ch <- svc.Invoke(ctx, req) }()
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
