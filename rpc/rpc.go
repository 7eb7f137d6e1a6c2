// Package rpc defines the call/response contract between cluster members.
// Only mutations and lock traffic cross the wire — reads are always served
// by the local engine. Transport mechanics (serialization framing,
// reconnection) stay inside the Caller implementations; the coordinator sees
// just Call and two error classes: application errors carried inside a
// Response, and transport errors returned from Call itself, of which
// ErrUnreachable marks nodes that are gone rather than slow.
package rpc

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/repcache/cluster"
)

// Op enumerates the operations that cross node boundaries.
type Op uint8

const (
	OpPut Op = iota + 1 // override/versioned entry write
	OpDelete
	OpFlush
	OpNewGeneration
	OpLockAcquire
	OpLockRelease
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpFlush:
		return "flush"
	case OpNewGeneration:
		return "new_generation"
	case OpLockAcquire:
		return "lock_acquire"
	case OpLockRelease:
		return "lock_release"
	default:
		return "unknown"
	}
}

// Request is the wire envelope for one remote invocation. Value carries the
// codec-encoded payload; the envelope itself never interprets it.
type Request struct {
	Cache      string
	Op         Op
	Key        string
	LockIDs    []string
	Owner      string
	Value      []byte
	Version    int64
	HasVersion bool
	Override   bool
}

// ErrKind tags application errors crossing the wire so the calling side can
// restore sentinel identity.
type ErrKind string

const (
	KindConflict ErrKind = "conflict"
	KindAborted  ErrKind = "aborted"
	KindInternal ErrKind = "internal"
)

// CallError is an application-level error that occurred on the remote node.
type CallError struct {
	Kind ErrKind
	Msg  string
}

func (e *CallError) Error() string { return string(e.Kind) + ": " + e.Msg }

// Response is the wire envelope for one invocation result. OK=false without
// Err means the operation was declined without error (lock contention).
type Response struct {
	OK    bool
	Value []byte
	Gen   int64
	Err   *CallError
}

// Service is the node-side dispatch: every member exposes one per cache.
type Service interface {
	Invoke(ctx context.Context, req *Request) *Response
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req *Request) *Response

func (f ServiceFunc) Invoke(ctx context.Context, req *Request) *Response { return f(ctx, req) }

// Caller issues a Request against a single node. A non-nil error is a
// transport failure; application errors travel inside the Response.
type Caller interface {
	Call(ctx context.Context, n cluster.Node, req *Request) (*Response, error)
}

// Registrar is implemented by transports that also host the serving side
// (the in-process Network). The cache registers its Service at setup.
type Registrar interface {
	Register(n cluster.Node, svc Service)
}

// ErrUnreachable marks a node unreachable at the transport layer: unknown
// in-process, connection refused or unresolvable over HTTP. Timeouts are
// deliberately NOT unreachable — a slow node is a partial failure, not a
// fatal one.
var ErrUnreachable = errors.New("rpc: node unreachable")

// IsUnreachable reports whether err indicates transport-level
// unreachability.
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }
