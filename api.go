package repcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/repcache/codec"
	"github.com/unkn0wn-root/repcache/cluster"
	eng "github.com/unkn0wn-root/repcache/engine"
	"github.com/unkn0wn-root/repcache/rpc"
)

// Cache is the replicated cache API. Reads are local; single-key writes are
// applied locally and broadcast to every other member as an override;
// Delete/Flush are multicalled to every member including the local one.
// V is the caller's value type, serialized by a pluggable codec for
// cross-node transport.
type Cache[V any] interface {
	// Reads - local engine only, no lock, no broadcast.
	Get(ctx context.Context, key string) (V, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int, error)
	Reduce(ctx context.Context, init any, fn func(acc any, key string, value V) any) (any, error)
	ToMap(ctx context.Context) (map[string]V, error)

	// Take removes and returns the local entry. Like the read path it
	// does not broadcast: peers keep their copies.
	Take(ctx context.Context, key string) (V, bool, error)

	// Single-key writes - lock, local mutation, override broadcast.
	Set(ctx context.Context, key string, value V) error
	// SetVersioned writes with a caller-supplied version; the local
	// conditional check rejects versions that do not advance.
	SetVersioned(ctx context.Context, key string, value V, version int64) error
	// Update stores init when key is absent, fn(current) otherwise, and
	// returns the stored value.
	Update(ctx context.Context, key string, init V, fn func(cur V) V) (V, error)
	// UpdateCounter adds delta to a numeric entry (absent counts as zero)
	// and returns the new total.
	UpdateCounter(ctx context.Context, key string, delta int64) (int64, error)
	// GetAndUpdate applies fn to the current value (nil if absent) and
	// returns both the pre-call value and the stored one. fn runs only on
	// this node; peers receive the result.
	GetAndUpdate(ctx context.Context, key string, fn func(cur *V) V) (prev *V, updated V, err error)

	// Cluster-wide writes - lock, then multicall every member.
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error

	// Transaction runs fn while holding the locks for keys on every
	// member. keys == nil locks the whole cache. Nested transactions on
	// keys already held by this call chain are reentrant.
	Transaction(ctx context.Context, keys []string, fn func(ctx context.Context) error) error

	// Nodes returns the current membership.
	Nodes(ctx context.Context) ([]cluster.Node, error)
	// NewGeneration rotates every member's engine and returns the
	// per-node generation indices. Failures on reachable members come
	// back as a *PartialError alongside the successful outcomes.
	NewGeneration(ctx context.Context) (map[cluster.Node]int64, error)

	// Service exposes the node-side dispatch for transports that serve
	// remotely (mount with rpc.NewHandler for HTTP).
	Service() rpc.Service

	// Close closes the local engine.
	Close(ctx context.Context) error
}

// Options configure a replicated cache, set once at construction.
// Name and Local are required.
type Options[V any] struct {
	// Required
	Name  string           // cache identity; also the membership group
	Local eng.Engine[V]    // the single-node engine backing this member

	Self      cluster.Node     // this member's identity; "" => "local"
	Registry  cluster.Registry // nil => isolated in-process registry
	Transport rpc.Caller       // nil => private in-process network
	Codec     c.Codec[V]       // nil => codec.JSON[V]

	RPCTimeout  time.Duration // per cross-node call; 0 => 1s
	LockRetries int           // retries after lock contention; 0 => 16
	LockBackoff time.Duration // base backoff between retries; 0 => 10ms

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}

// New builds the cache, registers its Service with the transport when the
// transport hosts services, and joins the membership group. A missing Local
// engine or an unavailable registry is a fatal setup error.
func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
