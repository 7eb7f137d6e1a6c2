package cluster

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Redis shares membership across processes through a Redis set per cache
// group. Optionally a TTL-free set is used; stale members are not pruned
// here — unreachable nodes surface at call time, matching the Registry
// contract.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a Redis-backed registry. Keys are namespaced as
// "repcache:cluster:<cache>".
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{rdb: client, ns: "repcache:cluster"}
}

func (r *Redis) key(cache string) string { return r.ns + ":" + cache }

func (r *Redis) Join(ctx context.Context, cache string, n Node) error {
	return r.rdb.SAdd(ctx, r.key(cache), string(n)).Err()
}

func (r *Redis) Members(ctx context.Context, cache string) ([]Node, error) {
	vals, err := r.rdb.SMembers(ctx, r.key(cache)).Result()
	if err != nil {
		return nil, err
	}
	ns := make([]Node, len(vals))
	for i, v := range vals {
		ns[i] = Node(v)
	}
	return Normalize(ns), nil
}
